package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/federicodip/GraphRag/model"
	"golang.org/x/time/rate"
)

// BatchIterator yields consecutive, order preserving slices of at most size ids.
type BatchIterator struct {
	ids  []string
	size int
	pos  int
}

// NewBatchIterator creates an iterator over ids. A size below 1 yields single ids.
func NewBatchIterator(ids []string, size int) *BatchIterator {
	if size < 1 {
		size = 1
	}
	return &BatchIterator{ids: ids, size: size}
}

// Next returns the next batch, or false once all ids were returned.
func (it *BatchIterator) Next() ([]string, bool) {
	if it.pos >= len(it.ids) {
		return nil, false
	}
	end := min(it.pos+it.size, len(it.ids))
	batch := it.ids[it.pos:end]
	it.pos = end
	return batch, true
}

// Count is the total number of batches.
func (it *BatchIterator) Count() int {
	return (len(it.ids) + it.size - 1) / it.size
}

// Pacer keeps MinDelay between the end of one remote call and the start of
// the next, never starts calls closer than MinDelay, and honours server
// requested pauses. It is safe for concurrent use.
type Pacer struct {
	limiter  *rate.Limiter
	minDelay time.Duration

	mu        sync.Mutex
	notBefore time.Time
}

// NewPacer creates a pacer for pacing.MinDelay. The first call is never delayed.
func NewPacer(pacing model.Pacing) *Pacer {
	limit := rate.Inf
	if pacing.MinDelay > 0 {
		limit = rate.Every(pacing.MinDelay)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1), minDelay: max(pacing.MinDelay, 0)}
}

// Wait blocks until the next call may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	pause := time.Until(p.notBefore)
	p.mu.Unlock()

	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return p.limiter.Wait(ctx)
}

// Done records that a call returned. The next one starts MinDelay later at the earliest.
func (p *Pacer) Done() {
	p.Defer(p.minDelay)
}

// Defer holds back every call for at least d from now.
func (p *Pacer) Defer(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if at := time.Now().Add(d); at.After(p.notBefore) {
		p.notBefore = at
	}
}
