// Package capture loads heavyweight capture objects (traces, heap dumps,
// allocation records) off the polling path.
package capture

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrCanceled is the result of a load abandoned by Loader.Stop.
	ErrCanceled = errors.New("capture load canceled")

	// ErrLoadFailed is the result of a load that ran but left the object in an
	// error state.
	ErrLoadFailed = errors.New("capture load failed")
)

// Object is a lazily loaded capture.
type Object interface {
	// Label is a human readable name.
	Label() string

	// StartTimeNs and EndTimeNs bound the capture on the device clock. An
	// ongoing capture reports model.OngoingTimestamp as its end.
	StartTimeNs() int64
	EndTimeNs() int64

	// Load parses the capture. It may block for a long time and should return
	// promptly once ctx is done.
	Load(ctx context.Context) error

	IsDoneLoading() bool
	IsError() bool

	// Dispose releases resources held by a loaded capture.
	Dispose()
}

// Future is the pending result of one LoadCapture call.
type Future struct {
	seq  uint64
	obj  Object
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture(seq uint64, obj Object) *Future {
	return &Future{seq: seq, obj: obj, done: make(chan struct{})}
}

// Seq is the request's position in the loader's issue order. Later requests
// have larger values.
func (f *Future) Seq() uint64 {
	return f.seq
}

// Object returns the capture this future loads.
func (f *Future) Object() Object {
	return f.obj
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the loaded object or the failure. It must only be called
// after Done is closed.
func (f *Future) Result() (Object, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.obj, nil
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (Object, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve sets the result once; later calls are ignored.
func (f *Future) resolve(err error) bool {
	resolved := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *Future) resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
