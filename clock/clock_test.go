package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)

	assert.Equal(t, start, m.Now())
	m.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), m.Now())

	later := start.Add(time.Hour)
	m.Set(later)
	assert.Equal(t, later, m.Now())
}

func TestFixedAndFunc(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, ts, NewFixed(ts).Now())

	calls := 0
	f := Func(func() time.Time {
		calls++
		return ts.Add(time.Duration(calls) * time.Minute)
	})
	assert.Equal(t, ts.Add(time.Minute), f.Now())
	assert.Equal(t, ts.Add(2*time.Minute), f.Now())
}

func TestOrReal(t *testing.T) {
	assert.NotNil(t, OrReal(nil))
	fixed := NewFixed(time.Unix(0, 0))
	assert.Equal(t, fixed, OrReal(fixed))
}
