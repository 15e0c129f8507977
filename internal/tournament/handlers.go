package tournament

import (
	"context"
	"errors"

	"github.com/cheildo/arena-coordinator/internal/events"
	"github.com/cheildo/arena-coordinator/internal/protocol"
	"github.com/cheildo/arena-coordinator/internal/registry"
)

// dispatch applies one decoded message from a connection. Messages that can
// free an arena or change the bracket are followed by a sweep; the rest are
// registration or relays to the game servers.
func (c *Coordinator) dispatch(ctx context.Context, from registry.Conn, msg protocol.Message) {
	switch m := msg.(type) {
	// --- Registration ---
	case protocol.ServerHello:
		c.hello(from, m)

	// --- Bracket and arena changes ---
	case protocol.UsersInServer:
		c.updateRoster(ctx, m)
		c.startOnce(ctx)
		c.sweep(ctx)

	case protocol.MatchResults:
		c.settleArena(ctx, m)
		c.sweep(ctx)

	case protocol.MatchCancel:
		c.cancelMatch(ctx, m)
		c.sweep(ctx)

	// Stop frees every arena without reporting anything.
	case protocol.TournamentStop:
		c.arenas.Reset()
		c.logger.Info("Tournament stopped, all arenas freed", "from", from.ID())
		c.publish(ctx, events.Event{Type: events.TournamentStopped})
		c.broadcast(m)

	// Direct assignment from a client bypasses the sweep.
	case protocol.MatchDetails:
		c.reassign(ctx, from, m)

	// --- Relays ---
	case protocol.SetMatchScore, protocol.TournamentStart, protocol.MatchBegan:
		c.broadcast(m)

	case protocol.Error:
		c.logger.Warn("Client reported an error", "conn", from.ID(), "message", m.Message)

	default:
		c.logger.Error("Unhandled message kind", "conn", from.ID(), "kind", msg.Kind())
	}
}

// hello registers the sender as the admin or as a game server, depending on
// the key it presented.
func (c *Coordinator) hello(from registry.Conn, m protocol.ServerHello) {
	if m.IsAdmin() {
		if err := c.conns.RegisterAdmin(from); err != nil {
			c.logger.Warn("Ignoring second admin", "conn", from.ID(), "error", err)
			return
		}
		c.logger.Info("Admin registered", "conn", from.ID())
		return
	}

	c.conns.RegisterServer(from)
	c.logger.Info("Game server registered",
		"conn", from.ID(), "serverNum", m.ServerNum, "host", m.ServerHost, "port", m.ServerPort, "stvPort", m.STVPort)
}

// updateRoster replaces the roster wholesale and registers players the
// bracket has not seen from this process yet.
func (c *Coordinator) updateRoster(ctx context.Context, m protocol.UsersInServer) {
	c.roster = append([]protocol.Player(nil), m.Players...)

	tags := make([]string, 0, len(m.Players))
	for _, p := range m.Players {
		tags = append(tags, p.SteamID)
	}
	c.logger.Info("Roster updated", "players", len(m.Players))
	c.publish(ctx, events.Event{Type: events.RosterUpdated, Players: tags})

	for _, p := range m.Players {
		if p.SteamID == "" {
			c.logger.Warn("Skipping roster entry without steam id", "name", p.Name)
			continue
		}
		if c.participants[p.SteamID] {
			continue
		}

		cctx, cancel := c.callContext(ctx)
		err := c.bracket.AddParticipant(cctx, p.Name, p.SteamID)
		cancel()
		if err != nil {
			c.logger.Error("Failed to add participant", "name", p.Name, "steamID", p.SteamID, "error", err)
			continue
		}
		c.participants[p.SteamID] = true
	}
}

// startOnce asks the bracket to start the tournament until that has
// succeeded once.
func (c *Coordinator) startOnce(ctx context.Context) {
	if c.started {
		return
	}

	cctx, cancel := c.callContext(ctx)
	defer cancel()
	if err := c.bracket.Start(cctx); err != nil {
		c.logger.Error("Failed to start tournament", "error", err)
		return
	}
	c.started = true
	c.logger.Info("Tournament started on bracket")
	c.publish(ctx, events.Event{Type: events.TournamentStarted})
}

// settleArena reports the result, then frees the arena whatever the
// report's outcome. A failed report is logged and not retried.
func (c *Coordinator) settleArena(ctx context.Context, m protocol.MatchResults) {
	reportErr := c.reportResult(ctx, m.Winner, m.Loser)
	c.releaseArena(ctx, m.Arena, "result")

	ev := events.Event{Type: events.ResultReported, Arena: events.ArenaRef(m.Arena), Winner: m.Winner, Loser: m.Loser}
	if reportErr != nil {
		ev.Type = events.ResultFailed
		ev.Detail = reportErr.Error()
	}
	c.publish(ctx, ev)
}

// reportResult makes one bounded ReportResult call and logs the outcome.
func (c *Coordinator) reportResult(ctx context.Context, winner, loser string) error {
	cctx, cancel := c.callContext(ctx)
	defer cancel()

	err := c.bracket.ReportResult(cctx, winner, loser)
	if err != nil {
		c.logger.Error("Failed to report result; arena is released anyway",
			"winner", winner, "loser", loser, "timeout", errors.Is(err, context.DeadlineExceeded), "error", err)
		return err
	}
	c.logger.Info("Result reported", "winner", winner, "loser", loser)
	return nil
}

// cancelMatch frees the arena of a match that never got going. The bracket is
// not told; the pairing stays open and is picked up by a later sweep.
func (c *Coordinator) cancelMatch(ctx context.Context, m protocol.MatchCancel) {
	c.logger.Info("Match cancelled", "arena", m.Arena, "delinquents", m.Delinquents, "arrived", m.Arrived)
	c.releaseArena(ctx, m.Arena, "cancel")
}

// releaseArena frees idx and records why.
func (c *Coordinator) releaseArena(ctx context.Context, idx int, reason string) {
	prev, err := c.arenas.Release(idx)
	if err != nil {
		c.logger.Warn("Cannot release arena", "arena", idx, "reason", reason, "error", err)
		return
	}
	if !prev.Occupied {
		c.logger.Debug("Released arena that was already free", "arena", idx, "reason", reason)
	}
	c.publish(ctx, events.Event{
		Type:    events.ArenaReleased,
		Arena:   events.ArenaRef(idx),
		Players: seatPlayers(prev.PlayerA, prev.PlayerB, prev.Occupied),
		Detail:  reason,
	})
}

// reassign applies a MatchDetails sent by a client. It overrides the
// allocator: an occupied arena is overwritten and players already seated
// elsewhere are not checked out of their other arena.
func (c *Coordinator) reassign(ctx context.Context, from registry.Conn, m protocol.MatchDetails) {
	for _, tag := range []string{m.P1ID, m.P2ID} {
		if seat, ok := c.arenas.Seated(tag); ok && seat != m.ArenaID {
			c.logger.Warn("Player double booked by direct assignment", "player", tag, "arena", m.ArenaID, "alreadyIn", seat)
		}
	}

	prev, overwrote, err := c.arenas.Allocate(m.ArenaID, m.P1ID, m.P2ID)
	if err != nil {
		c.logger.Warn("Dropping assignment to unknown arena", "conn", from.ID(), "arena", m.ArenaID, "error", err)
		return
	}
	if overwrote {
		c.logger.Warn("Arena overwritten by direct assignment",
			"arena", m.ArenaID, "previousA", prev.PlayerA, "previousB", prev.PlayerB, "p1", m.P1ID, "p2", m.P2ID)
	}

	c.publish(ctx, events.Event{Type: events.ArenaReassigned, Arena: events.ArenaRef(m.ArenaID), Players: []string{m.P1ID, m.P2ID}})
	c.broadcast(m)
}

func seatPlayers(a, b string, occupied bool) []string {
	if !occupied {
		return nil
	}
	return []string{a, b}
}
