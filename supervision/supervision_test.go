package supervision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupervisor_DefaultIsResume(t *testing.T) {
	s := New("")
	assert.Equal(t, Resume, s.Decide(nil, errors.New("x")))
}

func TestSupervisor_PrecedenceStopBeatsReset(t *testing.T) {
	always := func(state interface{}, err error) bool { return true }
	s := New(Resume,
		Guard{When: always, Strategy: Reset},
		Guard{When: always, Strategy: Stop},
	)
	assert.Equal(t, Stop, s.Decide(nil, errors.New("x")))
}

func TestSupervisor_EachErrorGetsItsMatchingGuardOrDefault(t *testing.T) {
	isFoo := func(state interface{}, err error) bool { return err.Error() == "foo" }
	isBar := func(state interface{}, err error) bool { return err.Error() == "bar" }
	s := New(Resume,
		Guard{When: isFoo, Strategy: Reset},
		Guard{When: isBar, Strategy: Stop},
	)
	assert.Equal(t, Reset, s.Decide(nil, errors.New("foo")))
	assert.Equal(t, Stop, s.Decide(nil, errors.New("bar")))
	assert.Equal(t, Resume, s.Decide(nil, errors.New("baz")))
}
