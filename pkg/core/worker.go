package core

import (
	"sync"
	"time"
)

// Worker - run f after d of inactivity, Kick restarts the countdown.
// Processors use it for timeout policies such as flushing a stalled aggregation.
type Worker struct {
	mu      sync.Mutex
	timer   *time.Timer
	d       time.Duration
	f       func()
	stopped bool
}

func NewWorker(d time.Duration, f func()) *Worker {
	return &Worker{d: d, f: f}
}

// Kick - start or restart the countdown
func (w *Worker) Kick() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if !w.stopped {
		if w.timer == nil {
			w.timer = time.AfterFunc(w.d, w.f)
		} else {
			w.timer.Reset(w.d)
		}
	}
	w.mu.Unlock()
}

// Pause - cancel the countdown until next Kick
func (w *Worker) Pause() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

// Stop - cancel forever
func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}
