package tournament

import (
	"context"

	"github.com/cheildo/arena-coordinator/internal/events"
	"github.com/cheildo/arena-coordinator/internal/protocol"
)

// sweep matches free arenas to the bracket's pending pairings, in bracket
// order. A pairing with a player already seated anywhere is skipped, and the
// pass ends at the first pairing that finds no free arena. It returns the
// number of arenas assigned.
func (c *Coordinator) sweep(ctx context.Context) int {
	cctx, cancel := c.callContext(ctx)
	pairings, err := c.bracket.PendingPairings(cctx)
	cancel()
	if err != nil {
		c.logger.Error("Failed to fetch pending pairings", "error", err)
		return 0
	}

	assigned := 0
	for i, p := range pairings {
		if c.isSeated(p.P1.Tag) || c.isSeated(p.P2.Tag) {
			c.logger.Debug("Pairing already playing", "p1", p.P1.Tag, "p2", p.P2.Tag)
			continue
		}

		idx, ok := c.arenas.Open()
		if !ok {
			c.logger.Info("No free arena; remaining pairings wait for the next sweep", "waiting", len(pairings)-i)
			break
		}

		if _, _, err := c.arenas.Allocate(idx, p.P1.Tag, p.P2.Tag); err != nil {
			c.logger.Error("Allocator rejected open arena", "arena", idx, "error", err)
			break
		}
		assigned++
		c.logger.Info("Match assigned", "arena", idx, "p1", p.P1.Name, "p2", p.P2.Name)

		c.publish(ctx, events.Event{Type: events.ArenaAssigned, Arena: events.ArenaRef(idx), Players: []string{p.P1.Tag, p.P2.Tag}})
		c.broadcast(protocol.MatchDetails{ArenaID: idx, P1ID: p.P1.Tag, P2ID: p.P2.Tag})
	}
	return assigned
}

func (c *Coordinator) isSeated(tag string) bool {
	_, ok := c.arenas.Seated(tag)
	return ok
}
