// Package ports connects an application's message ports to a relay.
//
// An application talks to the relay through two one-directional ports:
// pub carries text from the application to the remote endpoint and sub
// carries text (the greeting first) from the remote endpoint to the
// application.
package ports

import (
	"context"
	"errors"

	"github.com/philsphicas/wsport/internal/relay"
)

// Wire subscribes sub to r, starts r and forwards every message received
// on pub to the remote endpoint. It blocks until pub is closed (returns
// nil), the relay terminates (returns its error), ctx is cancelled, or
// Start fails. r is closed before Wire returns.
//
// Wire owns r: it must not have been started and must have no handler.
func Wire(ctx context.Context, r *relay.Relay, pub <-chan string, sub chan<- string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := r.OnMessage(func(msg string) {
		select {
		case sub <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for {
		select {
		case msg, ok := <-pub:
			if !ok {
				return nil
			}
			if err := r.Send(ctx, msg); err != nil {
				if errors.Is(err, relay.ErrNotConnected) {
					<-r.Done()
					if rerr := r.Err(); rerr != nil {
						return rerr
					}
				}
				return err
			}
		case <-r.Done():
			return r.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
