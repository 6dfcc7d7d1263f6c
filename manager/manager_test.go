package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/entityrt/entity"
	"eve.evalgo.org/entityrt/kernel"
	"eve.evalgo.org/entityrt/passivation"
	"eve.evalgo.org/entityrt/rterrors"
	"eve.evalgo.org/entityrt/store/memstore"
	"eve.evalgo.org/entityrt/supervision"
)

func passivationConfigFast() passivation.Config {
	return passivation.Config{IdleAfter: 20 * time.Millisecond, SweepInterval: 20 * time.Millisecond}
}

func counterDef(t *testing.T) *entity.Definition {
	t.Helper()
	def, err := entity.Define("counter").
		InitialState(func() interface{} { return map[string]interface{}{"count": float64(0)} }).
		Command("increment", func(_ context.Context, d *kernel.Draft, args []interface{}) (interface{}, error) {
			cur, _ := d.Get("count")
			n, _ := cur.(float64)
			n++
			d.Set([]string{"count"}, n)
			return n, nil
		}).
		Command("fail", func(_ context.Context, d *kernel.Draft, args []interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		}).
		Query("count", func(_ context.Context, d *kernel.Draft, args []interface{}) (interface{}, error) {
			v, _ := d.Get("count")
			return v, nil
		}).
		Stream("countUpTo", func(ctx context.Context, d *kernel.Draft, args []interface{}, yield kernel.Yield) (interface{}, error) {
			n, _ := args[0].(int)
			for i := 1; i <= n; i++ {
				d.Set([]string{"count"}, float64(i))
				if err := yield(ctx, float64(i)); err != nil {
					return i - 1, err
				}
			}
			return n, nil
		}).
		Build()
	require.NoError(t, err)
	return def
}

func TestManager_Get_HydratesLazilyAndReusesInstance(t *testing.T) {
	ctx := context.Background()
	m := New(Config{Definition: counterDef(t), Store: memstore.New()})
	defer m.Stop(ctx)

	ref1, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	_, err = ref1.Send(ctx, "increment")
	require.NoError(t, err)

	ref2, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	v, err := ref2.Read(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)
}

func TestManager_Get_ReplacesFailedInstanceTransparently(t *testing.T) {
	ctx := context.Background()
	always := func(state interface{}, err error) bool { return true }
	def, err := entity.Define("counter").
		InitialState(func() interface{} { return map[string]interface{}{"count": float64(0)} }).
		Command("fail", func(_ context.Context, d *kernel.Draft, args []interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		}).
		Query("count", func(_ context.Context, d *kernel.Draft, args []interface{}) (interface{}, error) {
			v, _ := d.Get("count")
			return v, nil
		}).
		Supervisor(supervision.New(supervision.Resume, supervision.Guard{When: always, Strategy: supervision.Stop})).
		Build()
	require.NoError(t, err)

	st := memstore.New()
	m := New(Config{Definition: def, Store: st})
	defer m.Stop(ctx)

	ref1, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	_, err = ref1.Send(ctx, "fail")
	assert.True(t, errors.Is(err, rterrors.ErrStoppedEntity))

	ref2, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	v, err := ref2.Read(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, float64(0), v)
}

func TestManager_Stop_RejectsFurtherGetAndRefOperations(t *testing.T) {
	ctx := context.Background()
	m := New(Config{Definition: counterDef(t), Store: memstore.New()})
	ref, err := m.Get(ctx, "e1")
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx)) // idempotent

	_, err = m.Get(ctx, "e2")
	assert.True(t, errors.Is(err, rterrors.ErrManagerShutdown))

	_, err = ref.Send(ctx, "increment")
	assert.True(t, errors.Is(err, rterrors.ErrManagerShutdown))
}

func TestManager_Snapshot_ReturnsStateAndVersion(t *testing.T) {
	ctx := context.Background()
	m := New(Config{Definition: counterDef(t), Store: memstore.New()})
	defer m.Stop(ctx)

	ref, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	_, err = ref.Send(ctx, "increment")
	require.NoError(t, err)

	snap, err := ref.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, float64(1), snap.State.(map[string]interface{})["count"])
}

func TestManager_ReadStream_YieldsChunksThenEnds(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	m := New(Config{Definition: counterDef(t), Store: st})
	defer m.Stop(ctx)

	ref, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	run, err := ref.Stream(ctx, "countUpTo", 3)
	require.NoError(t, err)
	run.Detach(ctx)
	_, err = run.Wait(ctx)
	require.NoError(t, err)

	reader, err := m.ReadStream(ctx, run.ID, 0)
	require.NoError(t, err)

	var got []interface{}
	for {
		chunk, _, ok, err := reader.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, chunk)
	}
	assert.Equal(t, []interface{}{float64(1), float64(2), float64(3)}, got)

	status, err := m.StreamStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.Equal(t, "complete", status.State)
	assert.Equal(t, 3, status.Seq)
}

func TestManager_StreamStatus_UnknownStreamDoesNotExist(t *testing.T) {
	ctx := context.Background()
	m := New(Config{Definition: counterDef(t), Store: memstore.New()})
	defer m.Stop(ctx)

	status, err := m.StreamStatus(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, status.Exists)
}

func TestManager_Passivation_EvictsIdleEntity(t *testing.T) {
	ctx := context.Background()
	m := New(Config{
		Definition: counterDef(t),
		Store:      memstore.New(),
		Passivation: passivationConfigFast(),
	})
	defer m.Stop(ctx)

	ref, err := m.Get(ctx, "e1")
	require.NoError(t, err)
	_, err = ref.Send(ctx, "increment")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m.mu.Lock()
		_, tracked := m.entities["e1"]
		m.mu.Unlock()
		return !tracked
	}, time.Second, 10*time.Millisecond)
}
