package engine

import (
	"context"
	"sync"
)

// Executor runs work on a designated execution context.
//
// Executors are a placement policy only: the knot's ordering guarantees
// come from the reduction loop, not from the executor. An executor used
// for state publication must run tasks one at a time in submission order.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(task func())

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) {
	f(task)
}

// Immediate runs every task inline on the calling goroutine.
var Immediate Executor = ExecutorFunc(func(task func()) { task() })

// SerialExecutor runs tasks one at a time, in submission order, on a single
// dedicated goroutine. Execute never blocks.
//
// Thread-safety: Execute may be called from any goroutine.
type SerialExecutor struct {
	tasks *queue[func()]
	done  chan struct{}
	once  sync.Once
}

// NewSerialExecutor starts a serial executor. Call Close to release its goroutine.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		tasks: newQueue[func()](),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *SerialExecutor) run() {
	defer close(e.done)
	for {
		task, err := e.tasks.Dequeue(context.Background())
		if err != nil {
			return
		}
		task()
	}
}

// Execute schedules task. After Close, tasks run inline on the caller so
// that late work (such as closing subscriptions) is never lost.
func (e *SerialExecutor) Execute(task func()) {
	if !e.tasks.Enqueue(task) {
		task()
	}
}

// Close stops accepting tasks, runs everything already queued and waits
// for the executor goroutine to exit.
func (e *SerialExecutor) Close() {
	e.once.Do(e.tasks.Close)
	<-e.done
}

// runOn executes task on exec, or inline when exec is nil.
func runOn(exec Executor, task func()) {
	if exec == nil {
		task()
		return
	}
	exec.Execute(task)
}
