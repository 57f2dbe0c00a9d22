// Package feed sequences committed mutations for subscribers. Appends never
// wait on subscribers; a subscriber that falls out of the retained window
// receives types.ErrFeedOverrun and must re-read state.
package feed

import (
	"context"
	"iter"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// Feed is a bounded, ordered log of change events.
type Feed struct {
	mu        sync.Mutex
	buf       []types.Event // ring; event with seq s lives at (s-1) % retention
	retention int
	next      uint64        // seq assigned by the next Append
	notify    chan struct{} // closed and replaced on every Append
	closed    bool

	logger *zap.Logger
}

// New returns a feed that retains the most recent retention events.
func New(retention int, logger *zap.Logger) *Feed {
	if retention <= 0 {
		retention = types.DefaultFeedRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		retention: retention,
		next:      1,
		notify:    make(chan struct{}),
		logger:    logger.Named("feed"),
	}
}

// Append assigns the next sequence number to ev, stores it, and wakes
// waiting subscribers. Appending to a closed feed drops the event and logs
// it at Warn: the mutation it describes committed after Close.
func (f *Feed) Append(ev types.Event) types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		f.logger.Warn("event dropped: feed closed",
			zap.String("type", string(ev.Type)),
			zap.String("entity_type", ev.EntityType),
			zap.String("id", ev.ID),
			zap.Int64("version", ev.Version),
		)
		return ev
	}

	ev.Seq = f.next
	f.next++
	if len(f.buf) < f.retention {
		f.buf = append(f.buf, ev)
	} else {
		f.buf[(ev.Seq-1)%uint64(f.retention)] = ev
	}

	close(f.notify)
	f.notify = make(chan struct{})

	f.logger.Debug("event appended",
		zap.Uint64("seq", ev.Seq),
		zap.String("type", string(ev.Type)),
		zap.String("id", ev.ID),
		zap.Int64("version", ev.Version),
	)
	return ev
}

// LastSeq returns the sequence number of the newest event, 0 if none.
func (f *Feed) LastSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next - 1
}

// Subscribe returns a subscription that starts with the next appended event.
func (f *Feed) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Subscription{feed: f, next: f.next}
}

// SubscribeFrom returns a subscription whose first event is seq. Use it to
// resume after the last event a consumer processed.
func (f *Feed) SubscribeFrom(seq uint64) *Subscription {
	if seq == 0 {
		seq = 1
	}
	return &Subscription{feed: f, next: seq}
}

// Close wakes all waiting subscribers, which then receive
// types.ErrStoreClosed once they have drained retained events.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.notify)
}

// oldest returns the smallest retained seq. Callers hold f.mu.
func (f *Feed) oldest() uint64 {
	if f.next-1 <= uint64(f.retention) {
		return 1
	}
	return f.next - uint64(f.retention)
}

// Subscription is one reader's position in a Feed. It is not safe for
// concurrent use.
type Subscription struct {
	feed *Feed
	next uint64
}

// Position returns the seq of the next event Next will return.
func (s *Subscription) Position() uint64 {
	return s.next
}

// Next blocks until the next event is available or ctx is done.
func (s *Subscription) Next(ctx context.Context) (types.Event, error) {
	f := s.feed
	for {
		f.mu.Lock()
		if s.next < f.oldest() {
			f.mu.Unlock()
			return types.Event{}, types.ErrFeedOverrun
		}
		if s.next < f.next {
			ev := f.buf[(s.next-1)%uint64(f.retention)]
			s.next++
			f.mu.Unlock()
			return ev, nil
		}
		if f.closed {
			f.mu.Unlock()
			return types.Event{}, types.ErrStoreClosed
		}
		wait := f.notify
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.Event{}, ctx.Err()
		case <-wait:
		}
	}
}

// Events yields events until ctx is done or an error occurs. The final
// error, if any, is yielded with a zero event.
func (s *Subscription) Events(ctx context.Context) iter.Seq2[types.Event, error] {
	return func(yield func(types.Event, error) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				yield(types.Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
