// Package events publishes arena and result transitions to outside
// observers. Sinks are write-only; nothing here is read back by the
// coordinator.
package events

import (
	"context"
	"errors"
	"time"
)

// Type names a coordinator transition.
type Type string

const (
	ArenaAssigned     Type = "arena_assigned"
	ArenaReassigned   Type = "arena_reassigned"
	ArenaReleased     Type = "arena_released"
	ResultReported    Type = "result_reported"
	ResultFailed      Type = "result_report_failed"
	TournamentStarted Type = "tournament_started"
	TournamentStopped Type = "tournament_stopped"
	RosterUpdated     Type = "roster_updated"
)

// Event is the payload every sink receives.
type Event struct {
	Type       Type      `json:"type"`
	Tournament string    `json:"tournament"`
	Arena      *int      `json:"arena,omitempty"`
	Players    []string  `json:"players,omitempty"`
	Winner     string    `json:"winner,omitempty"`
	Loser      string    `json:"loser,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Fanout publishes to every sink; one failing sink does not stop the rest.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ArenaRef is a helper for the optional Arena field.
func ArenaRef(i int) *int { return &i }
