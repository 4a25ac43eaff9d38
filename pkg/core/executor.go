package core

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Executor - the scheduling point of InputSocket.Transfer.
// Every receive is handed to Execute, so the executor decides
// if the receiver runs on the caller stack or later.
type Executor interface {
	Execute(task func())
}

type inline struct{}

func (inline) Execute(task func()) {
	task()
}

// Inline - run tasks on the caller stack, without any yield
var Inline Executor = inline{}

// Loop - single goroutine run loop with unbounded FIFO task queue.
// Execute never blocks, so tasks can schedule new tasks.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	busy   bool
	closed bool
}

func NewLoop() *Loop {
	l := &Loop{}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Execute - after Close the task runs on the caller goroutine
func (l *Loop) Execute(task func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		runTask(task)
		return
	}
	l.tasks = append(l.tasks, task)
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Sync - wait until the queue is empty and nothing runs.
// Must not be called from a task.
func (l *Loop) Sync() {
	l.mu.Lock()
	for len(l.tasks) > 0 || l.busy {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

// Len - number of queued tasks
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Close - already queued tasks still run
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *Loop) run() {
	l.mu.Lock()
	for {
		for len(l.tasks) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return
		}

		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.busy = true
		l.mu.Unlock()

		runTask(task)

		l.mu.Lock()
		l.busy = false
		l.cond.Broadcast()
	}
}

func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("[core] task panic: %v", r)
		}
	}()
	task()
}
