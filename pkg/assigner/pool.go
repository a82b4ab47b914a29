package assigner

import (
	"context"
	"sync"

	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrPoolStopped is returned for requests submitted after the pool stopped
var ErrPoolStopped = errors.New("assignment pool stopped")

type request struct {
	id   string
	tree *types.SpecificationTree
	done chan reply
}

type reply struct {
	outcome *Outcome
	err     error
}

// Pool runs assignments on a fixed number of workers. Different tasks are
// assigned concurrently; the claim store serializes claim insertion.
type Pool struct {
	assigner *Assigner
	workers  int
	requests chan *request
	stopped  chan struct{}

	// mu orders sends on requests against the final drain
	mu sync.RWMutex
}

// NewPool creates a pool of workers fed by a queue of queueSize requests
func NewPool(a *Assigner, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		assigner: a,
		workers:  workers,
		requests: make(chan *request, queueSize),
		stopped:  make(chan struct{}),
	}
}

// Run dispatches queued requests until ctx is done, then waits for the
// assignments in flight
func (p *Pool) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(p.workers)

	for {
		select {
		case <-ctx.Done():
			p.stop()
			return g.Wait()
		case req := <-p.requests:
			metrics.AssignmentQueueDepth.Set(float64(len(p.requests)))
			g.Go(func() error {
				outcome, err := p.assigner.assign(ctx, req.id, req.tree)
				req.done <- reply{outcome: outcome, err: err}
				return nil
			})
		}
	}
}

// stop refuses new requests, then answers the ones still queued
func (p *Pool) stop() {
	close(p.stopped)
	// Senders that passed the stopped check hold the read lock until
	// their request is queued.
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drain()
}

func (p *Pool) drain() {
	for {
		select {
		case req := <-p.requests:
			req.done <- reply{err: ErrPoolStopped}
		default:
			metrics.AssignmentQueueDepth.Set(0)
			return
		}
	}
}

// Submit queues tree and returns the request id without waiting for the
// outcome
func (p *Pool) Submit(ctx context.Context, tree *types.SpecificationTree) (string, error) {
	req, err := p.enqueue(ctx, tree)
	if err != nil {
		return "", err
	}
	return req.id, nil
}

// Assign queues tree and waits for its outcome
func (p *Pool) Assign(ctx context.Context, tree *types.SpecificationTree) (*Outcome, error) {
	req, err := p.enqueue(ctx, tree)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-req.done:
		return r.outcome, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) enqueue(ctx context.Context, tree *types.SpecificationTree) (*request, error) {
	req := &request{id: uuid.New().String(), tree: tree, done: make(chan reply, 1)}

	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.stopped:
		return nil, ErrPoolStopped
	default:
	}
	select {
	case p.requests <- req:
		metrics.AssignmentQueueDepth.Set(float64(len(p.requests)))
		return req, nil
	case <-p.stopped:
		return nil, ErrPoolStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
