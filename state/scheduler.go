package state

import (
	"fmt"
	"time"
)

// Dispatch Dispatches the function to run on the main thread without waiting for it to complete
func (e *Env) Dispatch(fun func(*State) error) {
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("panic: %v", r))
		}
	}()
	select {
	case e.DispatchChannel <- fun:
	case <-e.Context.Done():
	}
}

// DispatchWait Dispatches the function to run on the main thread and wait for it to complete
func (e *Env) DispatchWait(fun func(*State) (any, error)) (any, error) {
	ret := make(chan Pair[any, error], 1)
	e.Dispatch(func(s *State) error {
		res, err := fun(s)
		ret <- Pair[any, error]{res, err}
		return err
	})
	select {
	case res := <-ret:
		return res.V1, res.V2
	case <-e.Context.Done():
		return nil, e.Context.Err()
	}
}

func (e *Env) ScheduleTask(fun func(*State) error, delay time.Duration) {
	e.Clock.AfterFunc(delay, func() {
		e.Dispatch(fun)
	})
}

func (e *Env) repeatedTask(fun func(*State) error, delay time.Duration) {
	t := e.Clock.Ticker(delay)
	defer t.Stop()
	for {
		select {
		case <-e.Context.Done():
			return
		case <-t.C:
			e.Dispatch(fun)
		}
	}
}

func (e *Env) RepeatTask(fun func(*State) error, delay time.Duration) {
	go e.repeatedTask(fun, delay)
}

// Timer is a hold timer driven through the dispatch loop. Schedule and Stop
// must only be called on the loop; a fire that raced with Stop or a
// re-Schedule is discarded by the generation check.
type Timer struct {
	env   *Env
	fn    func(*State) error
	gen   uint64
	armed bool
}

func (e *Env) NewTimer(fn func(*State) error) *Timer {
	return &Timer{env: e, fn: fn}
}

// Schedule arms the timer, replacing any previous deadline.
func (t *Timer) Schedule(d time.Duration) {
	t.gen++
	t.armed = true
	gen := t.gen
	t.env.Clock.AfterFunc(d, func() {
		t.env.Dispatch(func(s *State) (err error) {
			defer func() {
				// a timer callback must never take the loop down
				if r := recover(); r != nil {
					s.Log.Error("panic in timer callback", "panic", r)
					err = nil
				}
			}()
			if t.gen != gen || !t.armed {
				return nil
			}
			t.armed = false
			return t.fn(s)
		})
	})
}

// Stop cancels the pending fire, if any.
func (t *Timer) Stop() {
	t.gen++
	t.armed = false
}

func (t *Timer) Armed() bool {
	return t.armed
}
