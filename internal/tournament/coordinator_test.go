package tournament

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cheildo/arena-coordinator/internal/arena"
	"github.com/cheildo/arena-coordinator/internal/bracket"
	"github.com/cheildo/arena-coordinator/internal/events"
	"github.com/cheildo/arena-coordinator/internal/protocol"
)

func TestRosterReport_RegistersStartsAndAssigns(t *testing.T) {
	b := new(mockBracket)
	b.On("AddParticipant", mock.Anything, "x", "1").Return(nil).Once()
	b.On("AddParticipant", mock.Anything, "y", "2").Return(nil).Once()
	b.On("Start", mock.Anything).Return(nil).Once()
	b.On("PendingPairings", mock.Anything).Return([]bracket.Pairing{{
		P1: bracket.Participant{Name: "x", Tag: "1"},
		P2: bracket.Participant{Name: "y", Tag: "2"},
	}}, nil).Once()

	c := newTestCoordinator(t, b, 4, []int{2, 0, 1, 3})
	srvA := newConn("A")
	srvB := newConn("B")
	send(c, srvA, protocol.ServerHello{APIKey: "srvA"})
	send(c, srvB, protocol.ServerHello{APIKey: "srvB"})

	send(c, srvA, protocol.UsersInServer{Players: []protocol.Player{
		{SteamID: "1", Name: "x"},
		{SteamID: "2", Name: "y"},
	}})

	b.AssertExpectations(t)
	b.AssertNumberOfCalls(t, "AddParticipant", 2)
	b.AssertNumberOfCalls(t, "Start", 1)

	want := []protocol.MatchDetails{{ArenaID: 2, P1ID: "1", P2ID: "2"}}
	assert.Equal(t, want, srvA.matchDetails())
	assert.Equal(t, want, srvB.matchDetails())

	v := c.view()
	assert.True(t, v.Started)
	assert.Equal(t, []protocol.Player{{SteamID: "1", Name: "x"}, {SteamID: "2", Name: "y"}}, v.Roster)
}

func TestRosterReport_OnlyNewPlayersAreAdded(t *testing.T) {
	b := new(mockBracket)
	b.On("AddParticipant", mock.Anything, "x", "1").Return(nil).Once()
	b.On("AddParticipant", mock.Anything, "y", "2").Return(errBracketDown).Once()
	b.On("AddParticipant", mock.Anything, "y", "2").Return(nil).Once()
	b.On("AddParticipant", mock.Anything, "z", "3").Return(nil).Once()
	b.On("Start", mock.Anything).Return(errBracketDown).Once()
	b.On("Start", mock.Anything).Return(nil).Once()
	b.On("PendingPairings", mock.Anything).Return(nil, nil)

	c := newTestCoordinator(t, b, 1, nil)
	admin := newConn("admin")

	send(c, admin, protocol.UsersInServer{Players: []protocol.Player{{SteamID: "1", Name: "x"}, {SteamID: "2", Name: "y"}}})
	assert.False(t, c.view().Started)

	send(c, admin, protocol.UsersInServer{Players: []protocol.Player{{SteamID: "2", Name: "y"}, {SteamID: "3", Name: "z"}, {Name: "nobody"}}})
	send(c, admin, protocol.UsersInServer{Players: []protocol.Player{{SteamID: "3", Name: "z"}}})

	b.AssertExpectations(t)
	b.AssertNumberOfCalls(t, "AddParticipant", 4)
	b.AssertNumberOfCalls(t, "Start", 2)
	b.AssertNumberOfCalls(t, "PendingPairings", 3)

	v := c.view()
	assert.True(t, v.Started)
	assert.Equal(t, []protocol.Player{{SteamID: "3", Name: "z"}}, v.Roster, "roster is replaced, not merged")
}

func TestMatchResults_ReleasesEvenWhenReportFails(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("1", "2")}}
	sink := &recordingSink{}
	alloc, err := arena.New(1, nil)
	require.NoError(t, err)
	c := New(Config{Tournament: "mge1"}, b, alloc, sink, discardLogger())
	srv := newConn("s1")
	hello(c, srv)
	c.sweep(context.Background())

	b.mu.Lock()
	b.reportErr = errBracketDown
	b.pending = nil
	b.mu.Unlock()

	send(c, srv, protocol.MatchResults{Winner: "1", Loser: "2", Finished: true, Arena: 0})

	s, err := c.arenas.Slot(0)
	require.NoError(t, err)
	assert.False(t, s.Occupied)
	assert.Equal(t, []string{"pending", "report", "pending"}, b.callLog())
	assert.Contains(t, sink.types(), events.ResultFailed)
}

func TestMatchResults_NoReallocationUntilBracketCatchesUp(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("1", "2")}}
	b.onReport = func(f *fakeBracket, winner, loser string) {
		// The bracket only drops the pairing once the result is in.
		f.pending = nil
	}
	c := newTestCoordinator(t, b, 2, nil)
	srv := newConn("s1")
	hello(c, srv)

	c.sweep(context.Background())
	require.Len(t, srv.matchDetails(), 1)

	send(c, srv, protocol.MatchResults{Winner: "1", Loser: "2", Finished: true, Arena: 0})

	assert.Len(t, srv.matchDetails(), 1, "the finished pairing must not be assigned again")
	assert.Equal(t, []string{"pending", "report", "pending"}, b.callLog(), "report happens before the follow-up sweep")
	for _, s := range c.arenas.Snapshot() {
		assert.False(t, s.Occupied)
	}
}

func TestMatchResults_FreesCapacityForWaitingPairing(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("1", "2"), pairing("3", "4")}}
	b.onReport = func(f *fakeBracket, winner, loser string) {
		f.pending = []bracket.Pairing{pairing("3", "4")}
	}
	c := newTestCoordinator(t, b, 1, nil)
	srv := newConn("s1")
	hello(c, srv)
	c.sweep(context.Background())

	send(c, srv, protocol.MatchResults{Winner: "2", Loser: "1", Arena: 0})

	assert.Equal(t, []protocol.MatchDetails{
		{ArenaID: 0, P1ID: "1", P2ID: "2"},
		{ArenaID: 0, P1ID: "3", P2ID: "4"},
	}, srv.matchDetails())
	assert.Equal(t, [][2]string{{"2", "1"}}, b.reported)
}

func TestMatchCancel_ReleasesWithoutReport(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("1", "2")}}
	c := newTestCoordinator(t, b, 1, nil)
	srv := newConn("s1")
	hello(c, srv)
	c.sweep(context.Background())
	b.setPending()

	send(c, srv, protocol.MatchCancel{Delinquents: []string{"2"}, Arrived: "1", Arena: 0})

	s, err := c.arenas.Slot(0)
	require.NoError(t, err)
	assert.False(t, s.Occupied)
	assert.NotContains(t, b.callLog(), "report")
}

func TestMatchCancel_UnknownArenaIsHarmless(t *testing.T) {
	b := &fakeBracket{}
	c := newTestCoordinator(t, b, 1, nil)
	srv := newConn("s1")
	hello(c, srv)

	send(c, srv, protocol.MatchCancel{Arena: 9})

	assert.Equal(t, []arena.Slot{{}}, c.arenas.Snapshot())
}

func TestTournamentStop_FreesArenasAndUnblocksPairings(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("A", "B"), pairing("C", "D")}}
	c := newTestCoordinator(t, b, 1, nil)
	srv := newConn("s1")
	hello(c, srv)
	c.sweep(context.Background())
	require.Len(t, srv.matchDetails(), 1)

	send(c, srv, protocol.TournamentStop{})

	for _, s := range c.arenas.Snapshot() {
		assert.False(t, s.Occupied)
	}
	assert.Contains(t, srv.messages(), protocol.Message(protocol.TournamentStop{}))

	b.setPending(pairing("C", "D"))
	assert.Equal(t, 1, c.sweep(context.Background()))
	assert.Equal(t, protocol.MatchDetails{ArenaID: 0, P1ID: "C", P2ID: "D"}, srv.matchDetails()[1])
}

func TestMatchDetails_DirectAssignmentBypassesDoubleBookingCheck(t *testing.T) {
	b := &fakeBracket{}
	c := newTestCoordinator(t, b, 2, nil)
	srvA := newConn("A")
	srvB := newConn("B")
	hello(c, srvA, srvB)

	send(c, srvA, protocol.MatchDetails{ArenaID: 0, P1ID: "1", P2ID: "2"})
	send(c, srvA, protocol.MatchDetails{ArenaID: 1, P1ID: "1", P2ID: "3"})

	slots := c.arenas.Snapshot()
	assert.True(t, slots[0].Holds("1"))
	assert.True(t, slots[1].Holds("1"), "direct assignments are applied as sent, even when a player is already seated")
	assert.Len(t, srvB.matchDetails(), 2)
	assert.Empty(t, b.callLog(), "direct assignment never consults the bracket")

	send(c, srvA, protocol.MatchDetails{ArenaID: 0, P1ID: "4", P2ID: "5"})
	s, err := c.arenas.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, arena.Slot{Occupied: true, PlayerA: "4", PlayerB: "5"}, s, "last write wins")

	send(c, srvA, protocol.MatchDetails{ArenaID: 7, P1ID: "8", P2ID: "9"})
	assert.Len(t, srvB.matchDetails(), 3, "assignment to an unknown arena is dropped")
}

func TestPassThroughMessages(t *testing.T) {
	b := new(mockBracket)
	c := newTestCoordinator(t, b, 1, nil)
	srvA := newConn("A")
	srvB := newConn("B")
	hello(c, srvA, srvB)

	msgs := []protocol.Message{
		protocol.SetMatchScore{ArenaID: 0, P1Score: 3, P2Score: 1},
		protocol.TournamentStart{},
		protocol.MatchBegan{P1ID: "1", P2ID: "2"},
	}
	for _, m := range msgs {
		send(c, srvA, m)
	}

	assert.Equal(t, msgs, srvA.messages())
	assert.Equal(t, msgs, srvB.messages())
	assert.Equal(t, []arena.Slot{{}}, c.arenas.Snapshot())
	b.AssertExpectations(t)
}

func TestMalformed_RepliesOnlyToSender(t *testing.T) {
	c := newTestCoordinator(t, new(mockBracket), 1, nil)
	srvA := newConn("A")
	srvB := newConn("B")
	hello(c, srvA, srvB)

	_, err := protocol.Decode([]byte(`{"type":"Nope"}`))
	require.Error(t, err)
	c.handle(context.Background(), Malformed{From: srvA, Err: err})

	assert.Equal(t, []protocol.Message{protocol.Error{Message: err.Error()}}, srvA.messages())
	assert.Empty(t, srvB.messages())
	assert.Equal(t, []string{"A", "B"}, c.view().Servers)
}

func TestServerHello_SecondAdminIgnored(t *testing.T) {
	c := newTestCoordinator(t, new(mockBracket), 1, nil)
	first := newConn("admin1")
	second := newConn("admin2")

	send(c, first, protocol.ServerHello{APIKey: protocol.AdminKey})
	send(c, second, protocol.ServerHello{APIKey: protocol.AdminKey})

	v := c.view()
	assert.Equal(t, "admin1", v.Admin)
	assert.Empty(t, v.Servers)
	assert.Empty(t, second.messages(), "rejection is silent")
}

func TestDisconnect_LeavesArenaOccupied(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("1", "2")}}
	c := newTestCoordinator(t, b, 1, nil)
	srv := newConn("s1")
	admin := newConn("admin")
	hello(c, srv)
	send(c, admin, protocol.ServerHello{APIKey: protocol.AdminKey})
	c.sweep(context.Background())

	c.handle(context.Background(), Disconnected{ConnID: "s1"})
	c.handle(context.Background(), Disconnected{ConnID: "admin"})
	c.handle(context.Background(), Disconnected{ConnID: "never-registered"})

	v := c.view()
	assert.Empty(t, v.Servers)
	assert.Empty(t, v.Admin)
	assert.True(t, v.Arenas[0].Occupied)
}

func TestNoPersistenceAcrossRestart(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("1", "2")}}
	c := newTestCoordinator(t, b, 1, nil)
	hello(c, newConn("s1"))
	send(c, newConn("admin"), protocol.UsersInServer{Players: []protocol.Player{{SteamID: "1", Name: "x"}}})
	require.True(t, c.view().Arenas[0].Occupied)

	restarted := newTestCoordinator(t, b, 1, nil)
	v := restarted.view()
	assert.False(t, v.Started)
	assert.Empty(t, v.Roster)
	assert.Empty(t, v.Servers)
	assert.Equal(t, []arena.Slot{{}}, v.Arenas)
}

func TestLoop_ProcessesMailboxInOrder(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("1", "2")}}
	c := newTestCoordinator(t, b, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	srv := newConn("s1")
	require.NoError(t, c.Submit(ctx, Received{From: srv, Msg: protocol.ServerHello{APIKey: "srv"}}))
	require.NoError(t, c.Submit(ctx, Sweep{}))

	v, err := c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, v.Servers)
	assert.True(t, v.Arenas[0].Holds("1"))
	assert.Len(t, srv.matchDetails(), 1)

	cancel()
	require.Eventually(t, func() bool {
		err := c.Submit(context.Background(), Sweep{})
		return errors.Is(err, ErrStopped)
	}, time.Second, 5*time.Millisecond)
}

func TestLoop_PeriodicSweep(t *testing.T) {
	b := &fakeBracket{}
	alloc, err := arena.New(1, nil)
	require.NoError(t, err)
	c := New(Config{Tournament: "mge1", SweepInterval: 10 * time.Millisecond}, b, alloc, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	srv := newConn("s1")
	require.NoError(t, c.Submit(ctx, Received{From: srv, Msg: protocol.ServerHello{APIKey: "srv"}}))
	_, err = c.State(ctx)
	require.NoError(t, err)
	b.setPending(pairing("1", "2"))

	require.Eventually(t, func() bool {
		v, err := c.State(ctx)
		return err == nil && v.Arenas[0].Occupied
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, srv.matchDetails(), 1)
}

func TestCallTimeoutBoundsBracketCalls(t *testing.T) {
	b := &slowBracket{}
	alloc, err := arena.New(1, nil)
	require.NoError(t, err)
	c := New(Config{Tournament: "mge1", CallTimeout: 20 * time.Millisecond}, b, alloc, nil, discardLogger())

	start := time.Now()
	assert.Equal(t, 0, c.sweep(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

type slowBracket struct{ fakeBracket }

func (s *slowBracket) PendingPairings(ctx context.Context) ([]bracket.Pairing, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingSink struct {
	got []events.Event
}

func (r *recordingSink) Publish(_ context.Context, ev events.Event) error {
	r.got = append(r.got, ev)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) types() []events.Type {
	out := make([]events.Type, 0, len(r.got))
	for _, ev := range r.got {
		out = append(out, ev.Type)
	}
	return out
}

func TestEventsArePublished(t *testing.T) {
	b := &fakeBracket{pending: []bracket.Pairing{pairing("1", "2")}}
	sink := &recordingSink{}
	alloc, err := arena.New(1, nil)
	require.NoError(t, err)
	c := New(Config{Tournament: "mge1"}, b, alloc, sink, discardLogger())
	fixed := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	srv := newConn("s1")
	hello(c, srv)

	send(c, srv, protocol.UsersInServer{Players: []protocol.Player{{SteamID: "1", Name: "x"}, {SteamID: "2", Name: "y"}}})
	b.setPending()
	send(c, srv, protocol.MatchResults{Winner: "1", Loser: "2", Arena: 0})
	send(c, srv, protocol.TournamentStop{})

	assert.Equal(t, []events.Type{
		events.RosterUpdated,
		events.TournamentStarted,
		events.ArenaAssigned,
		events.ArenaReleased,
		events.ResultReported,
		events.TournamentStopped,
	}, sink.types())
	for _, ev := range sink.got {
		assert.Equal(t, "mge1", ev.Tournament)
		assert.Equal(t, fixed, ev.At)
	}
	assert.Equal(t, []string{"1", "2"}, sink.got[2].Players)
}
