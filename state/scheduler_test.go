package state

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func testEnv(ctx context.Context, cancel context.CancelFunc, clk clock.Clock) (*Env, chan func(*State) error) {
	dispatchChan := make(chan func(*State) error, 16)
	env := &Env{
		DispatchChannel: dispatchChan,
		Context:         ctx,
		Cancel: func(err error) {
			cancel()
		},
		Clock: clk,
	}
	return env, dispatchChan
}

// drain runs dispatched functions until the timeout elapses.
func drain(t *testing.T, s *State, ch chan func(*State) error, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case f := <-ch:
			if err := f(s); err != nil {
				t.Errorf("dispatch error: %v", err)
			}
		case <-deadline:
			return
		}
	}
}

func TestDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env, ch := testEnv(ctx, cancel, clock.New())
	s := &State{Env: env}

	called := false
	env.Dispatch(func(s *State) error {
		called = true
		return nil
	})
	drain(t, s, ch, 50*time.Millisecond)
	assert.True(t, called)
}

func TestDispatchWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env, ch := testEnv(ctx, cancel, clock.New())
	s := &State{Env: env}

	go drain(t, s, ch, 200*time.Millisecond)

	res, err := env.DispatchWait(func(s *State) (any, error) {
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, res)
}

func TestScheduleTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewMock()
	env, ch := testEnv(ctx, cancel, clk)
	s := &State{Env: env}

	called := false
	env.ScheduleTask(func(s *State) error {
		called = true
		return nil
	}, 50*time.Millisecond)

	clk.Add(40 * time.Millisecond)
	drain(t, s, ch, 20*time.Millisecond)
	assert.False(t, called, "fired before the delay")

	clk.Add(20 * time.Millisecond)
	drain(t, s, ch, 20*time.Millisecond)
	assert.True(t, called)
}

func TestTimerFires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewMock()
	env, ch := testEnv(ctx, cancel, clk)
	s := &State{Env: env}

	fired := 0
	timer := env.NewTimer(func(s *State) error {
		fired++
		return nil
	})
	timer.Schedule(100 * time.Millisecond)
	assert.True(t, timer.Armed())

	clk.Add(100 * time.Millisecond)
	drain(t, s, ch, 20*time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.False(t, timer.Armed())
}

// A stopped timer must discard a fire that already raced into the dispatch
// queue.
func TestTimerStopDiscardsLateFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewMock()
	env, ch := testEnv(ctx, cancel, clk)
	s := &State{Env: env}

	fired := 0
	timer := env.NewTimer(func(s *State) error {
		fired++
		return nil
	})
	timer.Schedule(100 * time.Millisecond)
	clk.Add(100 * time.Millisecond) // fire is now queued
	timer.Stop()
	drain(t, s, ch, 20*time.Millisecond)
	assert.Equal(t, 0, fired)
}

// Rescheduling replaces the previous deadline entirely.
func TestTimerReschedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewMock()
	env, ch := testEnv(ctx, cancel, clk)
	s := &State{Env: env}

	fired := 0
	timer := env.NewTimer(func(s *State) error {
		fired++
		return nil
	})
	timer.Schedule(100 * time.Millisecond)
	clk.Add(50 * time.Millisecond)
	timer.Schedule(100 * time.Millisecond)

	clk.Add(60 * time.Millisecond) // old deadline passed, new one not yet
	drain(t, s, ch, 20*time.Millisecond)
	assert.Equal(t, 0, fired)

	clk.Add(40 * time.Millisecond)
	drain(t, s, ch, 20*time.Millisecond)
	assert.Equal(t, 1, fired)
}

func TestDispatchAfterCancelDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env, _ := testEnv(ctx, cancel, clock.New())
	cancel()

	for i := 0; i < 32; i++ {
		env.Dispatch(func(s *State) error { return nil })
	}
	_, err := env.DispatchWait(func(s *State) (any, error) { return nil, nil })
	assert.Error(t, err)
}
