package data

import (
	"sync"

	"github.com/ef-ds/deque"

	"github.com/drand/ordering/common/log"
)

// Sink carries finalized items from the engine to the orchestrator. Pushing
// never blocks: items are buffered without bound and handed to the consumer in
// push order.
type Sink struct {
	mu     sync.Mutex
	queue  deque.Deque
	closed bool

	notify  chan struct{}
	stopped chan struct{}
	stop    sync.Once
	out     chan Item
	log     log.Logger
}

// NewSink returns a sink whose consumer side is Items.
func NewSink(l log.Logger) *Sink {
	s := &Sink{
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
		out:     make(chan Item),
		log:     l,
	}
	go s.pump()
	return s
}

// Finalized queues a finalized item. Once the consumer stopped or the
// producer closed the sink the item is logged and dropped.
func (s *Sink) Finalized(item Item) {
	s.mu.Lock()
	select {
	case <-s.stopped:
		s.mu.Unlock()
		s.log.Errorw("dropping finalized item, consumer is gone", "origin", item.Origin)
		return
	default:
	}
	if s.closed {
		s.mu.Unlock()
		s.log.Errorw("dropping finalized item, sink is closed", "origin", item.Origin)
		return
	}
	s.queue.PushBack(item)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close marks the end of the producer side. Items already queued are still
// delivered, then the Items channel is closed.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Stop releases the consumer side. Queued items are discarded.
func (s *Sink) Stop() {
	s.stop.Do(func() { close(s.stopped) })
}

// Items returns the consumer side of the sink.
func (s *Sink) Items() <-chan Item {
	return s.out
}

// Len returns the number of queued items not yet received by the consumer.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Sink) pump() {
	for {
		s.mu.Lock()
		v, ok := s.queue.PopFront()
		closed := s.closed
		s.mu.Unlock()

		if ok {
			select {
			case s.out <- v.(Item):
				continue
			case <-s.stopped:
				return
			}
		}
		if closed {
			close(s.out)
			return
		}
		select {
		case <-s.notify:
		case <-s.stopped:
			return
		}
	}
}
