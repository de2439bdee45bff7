package bench

import (
	"context"
	"time"

	"github.com/tokenbench/tokenbench/pkg/models"
)

// mailbox is the side channel between dispatched jobs and the drain
// loop: many independent writers, one reader. It is created per attempt
// with capacity equal to the dataset length, so every job can post its
// single outcome without blocking even after the reader has gone away.
type mailbox struct {
	ch chan models.Outcome
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{ch: make(chan models.Outcome, capacity)}
}

// post delivers one outcome. Never blocks within an attempt's capacity;
// anything beyond capacity is dropped (a job posts exactly once, so
// overflow only happens on a contract violation).
func (m *mailbox) post(o models.Outcome) {
	select {
	case m.ch <- o:
	default:
	}
}

// receive waits up to wait for the next outcome. The bounded wait keeps
// the drain loop responsive to cancellation and lets it emit periodic
// progress without a fixed-interval sleep.
func (m *mailbox) receive(ctx context.Context, wait time.Duration) (models.Outcome, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case o := <-m.ch:
		return o, true
	case <-ctx.Done():
		return models.Outcome{}, false
	case <-timer.C:
		return models.Outcome{}, false
	}
}
