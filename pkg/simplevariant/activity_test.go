package simplevariant_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tendant/simple-variant/pkg/simplevariant"
)

// fakeClock is a manually advanced time source shared by tests in this package.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestActivityClock(t *testing.T) {
	clock := newFakeClock()
	activity := simplevariant.NewActivityClock(clock.Now)

	assert.True(t, clock.Now().Equal(activity.LastActivity()))
	assert.False(t, activity.IsIdle(5*time.Minute))

	clock.Advance(4 * time.Minute)
	assert.Equal(t, 4*time.Minute, activity.IdleFor())
	assert.False(t, activity.IsIdle(5*time.Minute))

	clock.Advance(time.Minute)
	assert.True(t, activity.IsIdle(5*time.Minute))

	activity.Touch()
	assert.Equal(t, time.Duration(0), activity.IdleFor())
	assert.False(t, activity.IsIdle(5*time.Minute))
}

func TestActivityClockConcurrentTouch(t *testing.T) {
	activity := simplevariant.NewActivityClock(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				activity.Touch()
				_ = activity.IdleFor()
			}
		}()
	}
	wg.Wait()
	assert.Less(t, activity.IdleFor(), time.Minute)
}
