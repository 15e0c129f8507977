package tournament

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cheildo/arena-coordinator/internal/arena"
	"github.com/cheildo/arena-coordinator/internal/bracket"
	"github.com/cheildo/arena-coordinator/internal/protocol"
)

var errBracketDown = errors.New("bracket unavailable")

// testConn records what the coordinator sends to it.
type testConn struct {
	id   string
	fail error

	mu   sync.Mutex
	sent []protocol.Message
}

func newConn(id string) *testConn { return &testConn{id: id} }

func (c *testConn) ID() string { return c.id }

func (c *testConn) Send(msg protocol.Message) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *testConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.sent...)
}

func (c *testConn) matchDetails() []protocol.MatchDetails {
	var out []protocol.MatchDetails
	for _, m := range c.messages() {
		if md, ok := m.(protocol.MatchDetails); ok {
			out = append(out, md)
		}
	}
	return out
}

// mockBracket is a testify mock for call-count assertions.
type mockBracket struct {
	mock.Mock
}

func (m *mockBracket) PendingPairings(ctx context.Context) ([]bracket.Pairing, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).([]bracket.Pairing)
	return p, args.Error(1)
}

func (m *mockBracket) AddParticipant(ctx context.Context, name, tag string) error {
	return m.Called(ctx, name, tag).Error(0)
}

func (m *mockBracket) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBracket) ReportResult(ctx context.Context, winnerTag, loserTag string) error {
	return m.Called(ctx, winnerTag, loserTag).Error(0)
}

// fakeBracket is a small stateful bracket whose pending list can depend on
// what has been reported.
type fakeBracket struct {
	mu         sync.Mutex
	pending    []bracket.Pairing
	pendingErr error
	reportErr  error
	calls      []string
	reported   [][2]string
	onReport   func(f *fakeBracket, winner, loser string)
}

func (f *fakeBracket) PendingPairings(context.Context) ([]bracket.Pairing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "pending")
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	return append([]bracket.Pairing(nil), f.pending...), nil
}

func (f *fakeBracket) AddParticipant(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "add:"+name)
	return nil
}

func (f *fakeBracket) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeBracket) ReportResult(_ context.Context, winner, loser string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "report")
	if f.reportErr != nil {
		return f.reportErr
	}
	f.reported = append(f.reported, [2]string{winner, loser})
	if f.onReport != nil {
		f.onReport(f, winner, loser)
	}
	return nil
}

func (f *fakeBracket) setPending(p ...bracket.Pairing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = p
}

func (f *fakeBracket) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func pairing(a, b string) bracket.Pairing {
	return bracket.Pairing{
		P1: bracket.Participant{Name: "name-" + a, Tag: a},
		P2: bracket.Participant{Name: "name-" + b, Tag: b},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, b bracket.Bracket, size int, priority []int) *Coordinator {
	t.Helper()
	alloc, err := arena.New(size, priority)
	require.NoError(t, err)
	return New(Config{Tournament: "mge1"}, b, alloc, nil, discardLogger())
}

// send feeds one message through the handler on the test goroutine.
func send(c *Coordinator, from *testConn, msg protocol.Message) {
	c.handle(context.Background(), Received{From: from, Msg: msg})
}

func hello(c *Coordinator, conns ...*testConn) {
	for _, conn := range conns {
		send(c, conn, protocol.ServerHello{APIKey: "srv-" + conn.id, ServerNum: "1"})
	}
}

// assertNoSharedPlayers checks that no player sits in two arenas.
func assertNoSharedPlayers(t *testing.T, slots []arena.Slot) {
	t.Helper()
	seen := map[string]int{}
	for i, s := range slots {
		if !s.Occupied {
			continue
		}
		for _, p := range []string{s.PlayerA, s.PlayerB} {
			if prev, ok := seen[p]; ok {
				t.Fatalf("player %s seated in arenas %d and %d", p, prev, i)
			}
			seen[p] = i
		}
	}
}
