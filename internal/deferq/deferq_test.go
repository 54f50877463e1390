package deferq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 手动推进的时钟
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRunDueOrdersByReadyTime(t *testing.T) {
	clk := newClock()
	q := New(clk.Now)

	var got []string
	q.Defer(3*time.Second, func() { got = append(got, "c") })
	q.Defer(1*time.Second, func() { got = append(got, "a") })
	q.Defer(2*time.Second, func() { got = append(got, "b") })

	clk.Advance(5 * time.Second)
	n := q.RunDue(clk.Now())

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestRunDueTiesBreakByInsertion(t *testing.T) {
	clk := newClock()
	q := New(clk.Now)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Defer(0, func() { got = append(got, i) })
	}
	q.RunDue(clk.Now())

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestRunDueNeverRunsEarly(t *testing.T) {
	clk := newClock()
	q := New(clk.Now)

	ran := false
	q.Defer(time.Second, func() { ran = true })

	assert.Equal(t, 0, q.RunDue(clk.Now()))
	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, q.RunDue(clk.Now()))
	assert.False(t, ran)

	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, q.RunDue(clk.Now()))
	assert.True(t, ran)
}

func TestRunDueExecutesJobsQueuedByJobs(t *testing.T) {
	clk := newClock()
	q := New(clk.Now)

	var got []string
	q.Defer(0, func() {
		got = append(got, "first")
		q.Defer(0, func() { got = append(got, "nested") })
		q.Defer(time.Minute, func() { got = append(got, "later") })
	})
	q.RunDue(clk.Now())

	assert.Equal(t, []string{"first", "nested"}, got)
	next, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(time.Minute), next)
}

func TestNextOnEmptyQueue(t *testing.T) {
	q := New(nil)
	_, ok := q.Next()
	assert.False(t, ok)
}
