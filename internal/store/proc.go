package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/formhist/formhist/internal/history"
)

// Pending is the asynchronous result of one submitted batch. Done closes
// when the batch commits or aborts; Err is valid once Done is closed.
type Pending struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed when the batch reaches a terminal state.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the batch outcome. Only valid after Done is closed; nil
// means every request in the batch committed together.
func (p *Pending) Err() error { return p.err }

// Wait blocks until the batch is terminal or the context is cancelled.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pending) complete(err error) {
	p.err = err
	close(p.done)
}

// batch is one submitted change list plus its pending result.
type batch struct {
	changes []history.Change
	pending *Pending
}

// batchQueue is a thread-safe FIFO queue of submitted batches.
//
// Unbounded: submission never blocks on the writer. The signal channel
// (buffered, size 1) coalesces wakeups for the processor loop and closes
// when the queue closes.
type batchQueue struct {
	mu      sync.Mutex
	batches []batch
	closed  bool
	signal  chan struct{}
}

func newBatchQueue() *batchQueue {
	return &batchQueue{signal: make(chan struct{}, 1)}
}

// enqueue adds a batch. Returns false if the queue is closed.
func (q *batchQueue) enqueue(b batch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.batches = append(q.batches, b)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue removes the front batch without blocking.
func (q *batchQueue) tryDequeue() (batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) == 0 {
		return batch{}, false
	}
	b := q.batches[0]
	// Clear the slot so the backing array does not retain the batch.
	q.batches[0] = batch{}
	if len(q.batches) == 1 {
		q.batches = q.batches[:0]
	} else {
		q.batches = q.batches[1:]
	}
	return b, true
}

// drained reports whether the queue is closed and empty.
func (q *batchQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.batches) == 0
}

// close marks the queue closed and wakes the processor.
func (q *batchQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Processor serializes write batches FIFO onto the store's connection.
//
// Batches from concurrent callers interleave at batch granularity only:
// within a batch, all resolution lookups complete before any write binds,
// all writes commit atomically together, and notifications are delivered
// strictly after commit in original request order.
type Processor struct {
	store *Store
	queue *batchQueue
	done  chan struct{}
}

func newProcessor(s *Store) *Processor {
	return &Processor{
		store: s,
		queue: newBatchQueue(),
		done:  make(chan struct{}),
	}
}

// Submit validates the requests synchronously and queues them as one
// batch. Validation failures surface immediately, before any asynchronous
// work begins; everything later (resolution, commit) surfaces through the
// returned Pending.
func (p *Processor) Submit(changes ...history.Change) (*Pending, error) {
	if len(changes) == 0 {
		return nil, history.NewInvalidOperation("", "empty change list")
	}
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}

	pending := &Pending{done: make(chan struct{})}
	if !p.queue.enqueue(batch{changes: changes, pending: pending}) {
		return nil, fmt.Errorf("store is shutting down")
	}
	return pending, nil
}

// run is the single-writer processing loop. All batch execution and
// notification publishing happens on this goroutine.
func (p *Processor) run() {
	defer close(p.done)
	for {
		b, ok := p.queue.tryDequeue()
		if ok {
			p.process(b)
			continue
		}
		if p.queue.drained() {
			return
		}
		<-p.queue.signal
	}
}

// process applies one batch and publishes its notifications after the
// commit is durable. On failure nothing is published and the error reaches
// the submitter through its Pending.
func (p *Processor) process(b batch) {
	events, err := p.store.applyChanges(context.Background(), b.changes)
	if err != nil {
		slog.Error("write batch aborted",
			"requests", len(b.changes),
			"error", err,
		)
		b.pending.complete(err)
		return
	}
	p.store.notifier.publish(events...)
	b.pending.complete(nil)
}

// close drains the queue and stops the loop. Queued batches still run; the
// context only bounds how long the drain may take.
func (p *Processor) close(ctx context.Context) error {
	p.queue.close()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain change processor: %w", ctx.Err())
	}
}

// Update validates, queues and waits for one batch: the synchronous form
// of Submit. A singleton request is just a one-element batch.
func (s *Store) Update(ctx context.Context, changes ...history.Change) error {
	pending, err := s.proc.Submit(changes...)
	if err != nil {
		return err
	}
	return pending.Wait(ctx)
}
