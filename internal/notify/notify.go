package notify

import (
	"context"
	"fmt"

	"github.com/rcabanilla/labreserve/internal/kafka"
)

// Sender hands booking lifecycle events to the notification channel. Actual
// delivery (mail, push) is owned by an external system; this sink writes to
// stdout.
type Sender struct{}

func NewSender() *Sender {
	return &Sender{}
}

func (s *Sender) Send(ctx context.Context, event kafka.BookingEvent) error {
	fmt.Printf("notify requester %d: booking %d %s (state %s)\n", event.RequesterID, event.BookingID, event.Type, event.State)
	return nil
}
