package bracket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const DefaultBaseURL = "https://api.challonge.com/v1"

var ErrMatchNotFound = errors.New("no open match between the reported players")

// APIError is a non-2xx response from Challonge.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("challonge responded %d: %s", e.Status, e.Body)
}

// ChallongeConfig holds what is needed to talk to one Challonge tournament.
type ChallongeConfig struct {
	BaseURL    string
	Username   string
	APIKey     string
	Tournament string // numeric id or "subdomain-url"
	Timeout    time.Duration
}

// Challonge implements Bracket over the Challonge v1 REST API. Participants
// carry their steam id in the "misc" field.
type Challonge struct {
	cfg    ChallongeConfig
	http   *http.Client
	logger *slog.Logger
}

// NewChallonge returns an adapter bound to cfg.Tournament.
func NewChallonge(cfg ChallongeConfig, logger *slog.Logger) *Challonge {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Challonge{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "challonge", "tournament", cfg.Tournament),
	}
}

type participant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Misc string `json:"misc"`
}

type match struct {
	ID        int64  `json:"id"`
	State     string `json:"state"`
	Player1ID *int64 `json:"player1_id"`
	Player2ID *int64 `json:"player2_id"`
	WinnerID  *int64 `json:"winner_id"`
}

// PendingPairings lists open matches in the order Challonge returns them.
func (c *Challonge) PendingPairings(ctx context.Context) ([]Pairing, error) {
	matches, err := c.matches(ctx, "open")
	if err != nil {
		return nil, err
	}
	people, err := c.participants(ctx)
	if err != nil {
		return nil, err
	}

	pairings := make([]Pairing, 0, len(matches))
	for _, m := range matches {
		p1, ok1 := lookup(people, m.Player1ID)
		p2, ok2 := lookup(people, m.Player2ID)
		if !ok1 || !ok2 {
			c.logger.Warn("Skipping open match with unknown participant", "matchID", m.ID)
			continue
		}
		pairings = append(pairings, Pairing{
			P1: Participant{Name: p1.Name, Tag: p1.Misc},
			P2: Participant{Name: p2.Name, Tag: p2.Misc},
		})
	}
	return pairings, nil
}

// AddParticipant registers a player, storing the tag in "misc".
func (c *Challonge) AddParticipant(ctx context.Context, name, tag string) error {
	body := map[string]any{
		"participant": map[string]any{
			"name": name,
			"seed": 1,
			"misc": tag,
		},
	}
	if err := c.do(ctx, http.MethodPost, c.path("participants.json"), nil, body, nil); err != nil {
		return fmt.Errorf("add participant %q: %w", name, err)
	}
	c.logger.Info("Participant added", "name", name, "tag", tag)
	return nil
}

// Start moves the tournament out of the signup phase.
func (c *Challonge) Start(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, c.path("start.json"), nil, map[string]any{}, nil); err != nil {
		return fmt.Errorf("start tournament: %w", err)
	}
	c.logger.Info("Tournament started")
	return nil
}

// ReportResult sets the winner on every unfinished match between the two
// players, with a 1-0 score line from player 1's point of view. Normally
// there is exactly one such match.
func (c *Challonge) ReportResult(ctx context.Context, winnerTag, loserTag string) error {
	matches, err := c.matches(ctx, "all")
	if err != nil {
		return err
	}
	people, err := c.participants(ctx)
	if err != nil {
		return err
	}

	var (
		reported int
		errs     []error
	)
	for _, m := range matches {
		if m.WinnerID != nil {
			continue
		}
		p1, ok1 := lookup(people, m.Player1ID)
		p2, ok2 := lookup(people, m.Player2ID)
		if !ok1 || !ok2 {
			continue
		}

		var winnerID int64
		var scores string
		switch {
		case p1.Misc == winnerTag && p2.Misc == loserTag:
			winnerID, scores = p1.ID, "1-0"
		case p1.Misc == loserTag && p2.Misc == winnerTag:
			winnerID, scores = p2.ID, "0-1"
		default:
			continue
		}

		body := map[string]any{
			"match": map[string]any{
				"scores_csv": scores,
				"winner_id":  winnerID,
			},
		}
		reported++
		if err := c.do(ctx, http.MethodPut, c.path(fmt.Sprintf("matches/%d.json", m.ID)), nil, body, nil); err != nil {
			errs = append(errs, fmt.Errorf("report match %d: %w", m.ID, err))
			continue
		}
		c.logger.Info("Match reported", "matchID", m.ID, "winner", winnerTag, "loser", loserTag, "scores", scores)
	}

	if reported == 0 {
		return fmt.Errorf("%w: %s vs %s", ErrMatchNotFound, winnerTag, loserTag)
	}
	return errors.Join(errs...)
}

func (c *Challonge) matches(ctx context.Context, state string) ([]match, error) {
	var rows []struct {
		Match match `json:"match"`
	}
	if err := c.do(ctx, http.MethodGet, c.path("matches.json"), url.Values{"state": {state}}, nil, &rows); err != nil {
		return nil, fmt.Errorf("list %s matches: %w", state, err)
	}
	out := make([]match, len(rows))
	for i, r := range rows {
		out[i] = r.Match
	}
	return out, nil
}

func (c *Challonge) participants(ctx context.Context) (map[int64]participant, error) {
	var rows []struct {
		Participant participant `json:"participant"`
	}
	if err := c.do(ctx, http.MethodGet, c.path("participants.json"), nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make(map[int64]participant, len(rows))
	for _, r := range rows {
		out[r.Participant.ID] = r.Participant
	}
	return out, nil
}

func lookup(people map[int64]participant, id *int64) (participant, bool) {
	if id == nil {
		return participant{}, false
	}
	p, ok := people[*id]
	return p, ok
}

func (c *Challonge) path(resource string) string {
	return fmt.Sprintf("%s/tournaments/%s/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Tournament), resource)
}

func (c *Challonge) do(ctx context.Context, method, endpoint string, query url.Values, in, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.cfg.APIKey)

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+query.Encode(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
