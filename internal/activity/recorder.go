package activity

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

const maxBatch = 64

type item struct {
	entry Entry
	ack   chan struct{} // set for flush markers only
}

// Recorder writes entries to a Store from a single consumer goroutine so
// callers never wait on the database. Entries are batched.
//
// A nil *Recorder discards everything.
type Recorder struct {
	store Store
	items chan item
	done  chan struct{}
	now   func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewRecorder creates a Recorder with the given channel buffer size.
func NewRecorder(store Store, bufSize int) *Recorder {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Recorder{
		store: store,
		items: make(chan item, bufSize),
		done:  make(chan struct{}),
		now:   time.Now,
	}
}

// Store returns the store entries are written to.
func (r *Recorder) Store() Store {
	if r == nil {
		return nil
	}
	return r.store
}

// Record queues an entry. Non-blocking: if the buffer is full the entry is
// dropped and a warning is logged.
func (r *Recorder) Record(kind Kind, inv schema.Invid, label, summary string) {
	if r == nil {
		return
	}
	e := Entry{ID: uuid.New(), At: r.now().UTC(), Kind: kind, Invid: inv, Label: label, Summary: summary}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.items <- item{entry: e}:
	default:
		glog.Warningf("activity: buffer full, dropping %s entry for %s", kind, inv)
	}
}

// Flush waits until every entry queued before the call is written.
func (r *Recorder) Flush(ctx context.Context) error {
	if r == nil {
		return nil
	}
	ack := make(chan struct{})
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	select {
	case r.items <- item{ack: ack}:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins the consumer goroutine. It writes entries until Stop is
// called, then drains what is left.
func (r *Recorder) Start(ctx context.Context) {
	if r == nil {
		return
	}
	go func() {
		defer close(r.done)
		for it := range r.items {
			r.consume(ctx, it)
		}
	}()
}

// Stop closes the queue and waits for the consumer to finish. Start must
// have been called.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.items)
	r.mu.Unlock()
	<-r.done
}

// consume writes it together with whatever else is already queued.
func (r *Recorder) consume(ctx context.Context, it item) {
	var batch []Entry
	var acks []chan struct{}
	add := func(it item) {
		if it.ack != nil {
			acks = append(acks, it.ack)
			return
		}
		batch = append(batch, it.entry)
	}
	add(it)
drain:
	for len(batch) < maxBatch && len(acks) == 0 {
		select {
		case next, ok := <-r.items:
			if !ok {
				break drain
			}
			add(next)
		default:
			break drain
		}
	}
	if len(batch) > 0 {
		// Entries queued before cancellation are still written.
		if err := r.store.WriteEntries(context.WithoutCancel(ctx), batch); err != nil {
			glog.Errorf("activity: writing %d entries: %v", len(batch), err)
		} else {
			glog.V(2).Infof("activity: wrote %d entries", len(batch))
		}
	}
	for _, a := range acks {
		close(a)
	}
}
