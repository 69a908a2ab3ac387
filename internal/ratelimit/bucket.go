// Package ratelimit implements the hierarchical, sliding-window rate limiting
// that gates every LLM and rerank call made by the pipeline.
package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// event is a single reservation recorded against a Bucket's sliding window.
type event struct {
	at     time.Time
	weight int
	id     uint64
}

// Bucket is a sliding-window token/request limiter. Capacity units expire
// Window seconds after they were reserved, rather than refilling at a fixed
// rate, so a reservation always has a well-defined expiry to wait for.
//
// A reservation is identified by an id returned from Acquire, which a caller
// can later pass to CreditByID to refund exactly the units it over-reserved
// (e.g. reserving for a worst-case completion length, then refunding the
// unused portion once the real token usage is known).
type Bucket struct {
	capacity int
	window   time.Duration

	mu       sync.Mutex
	events   *list.List // of *event, oldest at Front
	inWindow int
	nextID   uint64
}

// NewBucket creates a Bucket that allows capacity units per window.
func NewBucket(capacity int, window time.Duration) *Bucket {
	if capacity <= 0 {
		panic("ratelimit: capacity must be > 0")
	}
	if window <= 0 {
		panic("ratelimit: window must be > 0")
	}
	return &Bucket{
		capacity: capacity,
		window:   window,
		events:   list.New(),
	}
}

// purgeOld drops events that have aged out of the window. Caller must hold mu.
func (b *Bucket) purgeOld(now time.Time) {
	for e := b.events.Front(); e != nil; {
		ev := e.Value.(*event)
		if now.Sub(ev.at) < b.window {
			break
		}
		next := e.Next()
		b.events.Remove(e)
		b.inWindow -= ev.weight
		e = next
	}
	if b.inWindow < 0 {
		b.inWindow = 0
	}
}

// Acquire blocks until weight units are free in the sliding window, then
// reserves them and returns an event id that CreditByID can later refund
// against. It returns early with ctx.Err() if ctx is canceled first.
//
// If weight alone exceeds the bucket's total capacity the reservation can
// never succeed; Acquire returns an error immediately rather than blocking
// forever.
func (b *Bucket) Acquire(ctx context.Context, weight int) (uint64, error) {
	if weight > b.capacity {
		return 0, fmt.Errorf("ratelimit: reservation of %d exceeds bucket capacity %d", weight, b.capacity)
	}
	for {
		var waitFor time.Duration
		b.mu.Lock()
		now := time.Now()
		b.purgeOld(now)
		if b.inWindow+weight <= b.capacity {
			id := b.nextID
			b.nextID++
			b.events.PushBack(&event{at: now, weight: weight, id: id})
			b.inWindow += weight
			b.mu.Unlock()
			return id, nil
		}
		oldest := b.events.Front().Value.(*event)
		waitFor = b.window - now.Sub(oldest.at) + 10*time.Millisecond
		b.mu.Unlock()

		timer := time.NewTimer(waitFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

// CreditByID refunds up to weight units from the reservation identified by
// id; CreditAll refunds the whole reservation. The refund is capped at the
// reservation's remaining weight, and if the reservation has already aged
// out of the window this is a no-op, so a reservation can never be refunded
// below zero.
func (b *Bucket) CreditByID(id uint64, weight int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.purgeOld(now)

	for e := b.events.Back(); e != nil; e = e.Prev() {
		ev := e.Value.(*event)
		if ev.id != id {
			continue
		}
		refund := weight
		if refund > ev.weight {
			refund = ev.weight
		}
		b.inWindow -= refund
		if refund == ev.weight {
			b.events.Remove(e)
		} else {
			ev.weight -= refund
		}
		break
	}
	if b.inWindow < 0 {
		b.inWindow = 0
	}
}

// CreditAll refunds the entire reservation identified by id.
func (b *Bucket) CreditAll(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.purgeOld(now)
	for e := b.events.Back(); e != nil; e = e.Prev() {
		ev := e.Value.(*event)
		if ev.id == id {
			b.inWindow -= ev.weight
			b.events.Remove(e)
			break
		}
	}
	if b.inWindow < 0 {
		b.inWindow = 0
	}
}

// CurrentLoad returns the total units currently counted within the window.
func (b *Bucket) CurrentLoad() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeOld(time.Now())
	return b.inWindow
}

// Capacity returns the bucket's configured capacity.
func (b *Bucket) Capacity() int {
	return b.capacity
}
