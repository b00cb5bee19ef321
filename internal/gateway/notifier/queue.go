package notifier

import (
	"context"
	"errors"

	"mlbot/internal/logger"
	"mlbot/internal/pkg/circuit"
)

// ErrQueueFull is returned when the async queue cannot take more messages.
var ErrQueueFull = errors.New("notification queue full")

// Queue delivers messages on a background goroutine so slow transports never
// block the caller. Delivery goes through a circuit breaker.
type Queue struct {
	next    TextNotifier
	breaker *circuit.CircuitBreaker
	ch      chan string
}

func NewQueue(next TextNotifier, size int, breaker *circuit.CircuitBreaker) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{next: next, breaker: breaker, ch: make(chan string, size)}
}

func (q *Queue) SendText(text string) error {
	select {
	case q.ch <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until ctx ends, then flushes what is already queued.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case text := <-q.ch:
					q.deliver(text)
				default:
					return nil
				}
			}
		case text := <-q.ch:
			q.deliver(text)
		}
	}
}

func (q *Queue) deliver(text string) {
	send := func() error { return q.next.SendText(text) }
	var err error
	if q.breaker != nil {
		err = q.breaker.Do(send)
	} else {
		err = send()
	}
	if err != nil {
		logger.Warnf("[notify] delivery failed: %v", err)
	}
}
