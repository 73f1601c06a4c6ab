package containerizer

import (
	"context"
	"sync"

	"github.com/openmesos/docker-agent/api/mesos"
)

// terminationPromise is a single-assignment holder for a container's
// Termination. Either set or fail wins, exactly once; later calls are
// dropped on the floor, which is what makes destroy idempotent.
type terminationPromise struct {
	once sync.Once
	done chan struct{}

	termination *mesos.Termination
	err         error
}

func newTerminationPromise() *terminationPromise {
	return &terminationPromise{done: make(chan struct{})}
}

func (p *terminationPromise) set(t *mesos.Termination) {
	p.once.Do(func() {
		p.termination = t
		close(p.done)
	})
}

func (p *terminationPromise) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *terminationPromise) wait(ctx context.Context) (*mesos.Termination, error) {
	select {
	case <-p.done:
		return p.termination, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// statusFuture tracks the executor's exit status. It is armed once the
// reaper starts watching a pid; the status itself arrives later. Teardown
// waits for arming before stopping the container, mirroring the rule that
// a container must not be removed between docker run and status arming.
type statusFuture struct {
	armOnce sync.Once
	armed   chan struct{}
	done    chan struct{}

	status *int
}

func newStatusFuture() *statusFuture {
	return &statusFuture{
		armed: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// arm wires the reaper's delivery channel into the future.
func (f *statusFuture) arm(statusChan <-chan *int) {
	f.armOnce.Do(func() {
		go func() {
			f.status = <-statusChan
			close(f.done)
		}()
		close(f.armed)
	})
}
