// Package bracket is the coordinator's view of the external tournament
// bracket service: who is due to play next, and where results go.
package bracket

import "context"

// Participant is one player as known to the bracket. Tag is the player's
// steam id and is what arenas and results refer to.
type Participant struct {
	Name string
	Tag  string
}

// Pairing is a match the bracket reports as ready to be played.
type Pairing struct {
	P1 Participant
	P2 Participant
}

// Bracket is bound to a single tournament. Every call either succeeds or
// fails as a unit.
type Bracket interface {
	PendingPairings(ctx context.Context) ([]Pairing, error)
	AddParticipant(ctx context.Context, name, tag string) error
	Start(ctx context.Context) error
	ReportResult(ctx context.Context, winnerTag, loserTag string) error
}
