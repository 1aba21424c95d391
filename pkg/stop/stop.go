// Package stop implements a pattern for shutting down a group of processes.
package stop

import (
	"sync"
)

// Result is the channel a Stopper reports its shutdown outcome on.
// The channel can either yield one error or be closed. Closing the channel
// signals a clean shutdown.
type Result <-chan error

// AlreadyStopped is a closed Result to be returned when an element was
// already stopped.
var AlreadyStopped Result

// AlreadyStoppedFunc is a Func that returns AlreadyStopped.
var AlreadyStoppedFunc = func() Result { return AlreadyStopped }

func init() {
	closeMe := make(chan error)
	close(closeMe)
	AlreadyStopped = closeMe
}

// Channel is the writable end of a Result.
type Channel chan error

// Done reports the outcome of a shutdown on the Channel and closes it.
// Nil errors are ignored; at most one error is reported.
func (ch Channel) Done(errs ...error) {
	for _, err := range errs {
		if err != nil {
			ch <- err
			break
		}
	}
	close(ch)
}

// Result returns the read-only form of the Channel.
func (ch Channel) Result() Result {
	return Result(chan error(ch))
}

// Stopper is an interface that allows a clean shutdown.
type Stopper interface {
	// Stop returns a channel that indicates whether the stop was successful.
	// Stop() should return immediately and perform the actual shutdown in a
	// separate goroutine.
	Stop() Result
}

// Func is a function that can be used to provide a clean shutdown.
type Func func() Result

// Group is a collection of Stoppers that can be stopped all at once.
type Group struct {
	stoppables []Func
	sync.Mutex
}

// NewGroup allocates a new Group.
func NewGroup() *Group {
	return &Group{
		stoppables: make([]Func, 0),
	}
}

// Add appends a Stopper to the Group.
func (cg *Group) Add(toAdd Stopper) {
	cg.Lock()
	defer cg.Unlock()

	cg.stoppables = append(cg.stoppables, toAdd.Stop)
}

// AddFunc appends a Func to the Group.
func (cg *Group) AddFunc(toAddFunc Func) {
	cg.Lock()
	defer cg.Unlock()

	cg.stoppables = append(cg.stoppables, toAddFunc)
}

// Stop stops all members of the Group concurrently.
//
// The slice of errors returned contains all errors returned by stopping the
// members.
func (cg *Group) Stop() []error {
	cg.Lock()
	defer cg.Unlock()

	var errors []error
	whenDone := make(chan struct{})

	waitChannels := make([]Result, 0, len(cg.stoppables))
	for _, toStop := range cg.stoppables {
		waitFor := toStop()
		if waitFor == nil {
			panic("received a nil Result from Stop")
		}
		waitChannels = append(waitChannels, waitFor)
	}

	go func() {
		for _, waitForMe := range waitChannels {
			err := <-waitForMe
			if err != nil {
				errors = append(errors, err)
			}
		}
		close(whenDone)
	}()

	<-whenDone
	return errors
}
