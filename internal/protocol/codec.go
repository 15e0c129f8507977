package protocol

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// envelope is the wire shape of every message: the tag selects the variant
// and the payload carries its fields.
type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseError describes an inbound payload that could not be decoded. Its text
// is what the sender receives in the Error reply.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return e.Reason }

type decoder func(json.RawMessage) (Message, error)

var decoders = map[Kind]decoder{
	KindServerHello:     decodeAs[ServerHello],
	KindMatchDetails:    decodeAs[MatchDetails],
	KindMatchBegan:      decodeAs[MatchBegan],
	KindTournamentStart: decodeAs[TournamentStart],
	KindTournamentStop:  decodeAs[TournamentStop],
	KindMatchResults:    decodeAs[MatchResults],
	KindMatchCancel:     decodeAs[MatchCancel],
	KindUsersInServer:   decodeAs[UsersInServer],
	KindSetMatchScore:   decodeAs[SetMatchScore],
	KindError:           decodeAs[Error],
}

// Signal variants carry no fields, so a missing payload is accepted.
var signals = map[Kind]bool{
	KindTournamentStart: true,
	KindTournamentStop:  true,
}

func decodeAs[T Message](raw json.RawMessage) (Message, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes a message into its tagged envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Type: m.Kind(), Payload: payload})
}

// Decode parses one frame. Any failure is reported as a *ParseError.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid message: %v", err)}
	}
	if env.Type == "" {
		return nil, &ParseError{Reason: "missing field `type`"}
	}

	dec, ok := decoders[env.Type]
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("unknown variant `%s`", env.Type)}
	}

	raw := bytes.TrimSpace(env.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if !signals[env.Type] {
			return nil, &ParseError{Reason: fmt.Sprintf("missing field `payload` for %s", env.Type)}
		}
		raw = []byte("{}")
	}

	m, err := dec(raw)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid %s payload: %v", env.Type, err)}
	}
	return m, nil
}
