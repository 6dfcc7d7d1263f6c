package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterInitial() interface{} {
	return map[string]interface{}{"count": float64(0)}
}

func incHandler(by float64) CommandHandler {
	return func(ctx context.Context, d *Draft, args []interface{}) (interface{}, error) {
		cur, _ := d.Get("count")
		f, _ := cur.(float64)
		d.Set([]string{"count"}, f+by)
		return nil, nil
	}
}

func getQuery() QueryHandler {
	return func(ctx context.Context, d *Draft, args []interface{}) (interface{}, error) {
		v, _ := d.Get("count")
		return v, nil
	}
}

func TestApplyCommand_ProducesPatchAndAdvances(t *testing.T) {
	k := New(counterInitial())

	res, err := k.ApplyCommand(context.Background(), incHandler(10), nil)
	require.NoError(t, err)
	assert.False(t, res.Patches.IsEmpty())

	k.ApplyCommittedState(res.NextState)

	got, err := k.RunQuery(context.Background(), getQuery(), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(10), got)
}

func TestApplyCommand_NoopProducesEmptyPatch(t *testing.T) {
	k := New(map[string]interface{}{"count": float64(10)})

	res, err := k.ApplyCommand(context.Background(), incHandler(0), nil)
	require.NoError(t, err)
	assert.True(t, res.Patches.IsEmpty())
}

func TestApplyCommand_HandlerErrorLeavesStateUntouched(t *testing.T) {
	k := New(counterInitial())
	boom := errors.New("boom")

	_, err := k.ApplyCommand(context.Background(), func(ctx context.Context, d *Draft, args []interface{}) (interface{}, error) {
		d.Set([]string{"count"}, float64(999))
		return nil, boom
	}, nil)
	require.Error(t, err)
	assert.Equal(t, boom, err)
	assert.Equal(t, float64(0), k.State().(map[string]interface{})["count"])
}

func TestRunQuery_ResultIsIsolatedFromInternalState(t *testing.T) {
	k := New(map[string]interface{}{"items": []interface{}{"a"}})

	got, err := k.RunQuery(context.Background(), func(ctx context.Context, d *Draft, args []interface{}) (interface{}, error) {
		v, _ := d.Get("items")
		return v, nil
	}, nil)
	require.NoError(t, err)

	items := got.([]interface{})
	items[0] = "mutated"

	assert.Equal(t, "a", k.State().(map[string]interface{})["items"].([]interface{})[0])
}

func countingStreamHandler(items []string, failAt string) StreamHandler {
	return func(ctx context.Context, d *Draft, args []interface{}, yield Yield) (interface{}, error) {
		processed := 0
		for _, it := range items {
			if it == failAt {
				return nil, errors.New("failed at " + it)
			}
			if err := yield(ctx, "Processed "+it); err != nil {
				return nil, err
			}
			processed++
		}
		d.Set([]string{"processed"}, float64(processed))
		return processed, nil
	}
}

func TestStreamExec_DeliversChunksInOrder(t *testing.T) {
	base := map[string]interface{}{"processed": float64(0)}
	se, err := StartStream(context.Background(), base, countingStreamHandler([]string{"A", "B", "C"}, ""), nil)
	require.NoError(t, err)

	var got []string
	for {
		v, ok, err := se.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, v.(string))
		se.Continue()
	}

	res, err := se.Wait(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"Processed A", "Processed B", "Processed C"}, got)
	assert.Equal(t, float64(3), res.ReturnValue)
	assert.False(t, res.Patches.IsEmpty())
}

func TestStreamExec_FailureMidStreamLeavesNoPatch(t *testing.T) {
	base := map[string]interface{}{"processed": float64(0)}
	se, err := StartStream(context.Background(), base, countingStreamHandler([]string{"A", "B", "C"}, "B"), nil)
	require.NoError(t, err)

	var got []string
	for {
		v, ok, err := se.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, v.(string))
		se.Continue()
	}

	res, err := se.Wait(base)
	require.Error(t, err)
	assert.Equal(t, []string{"Processed A"}, got)
	assert.True(t, res.Patches.IsEmpty())
}

func TestStreamExec_DetachedDrainRunsToCompletion(t *testing.T) {
	base := map[string]interface{}{"processed": float64(0)}
	se, err := StartStream(context.Background(), base, countingStreamHandler([]string{"A", "B", "C"}, ""), nil)
	require.NoError(t, err)

	// Consumer reads only the first chunk, then detaches.
	_, ok, err := se.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	se.Continue()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	se.Drain(ctx)

	res, err := se.Wait(base)
	require.NoError(t, err)
	assert.Equal(t, float64(3), res.ReturnValue)
}
