package protocol

// Kind is the wire tag that selects a message variant.
type Kind string

const (
	KindServerHello     Kind = "ServerHello"
	KindMatchDetails    Kind = "MatchDetails"
	KindMatchBegan      Kind = "MatchBegan"
	KindTournamentStart Kind = "TournamentStart"
	KindTournamentStop  Kind = "TournamentStop"
	KindMatchResults    Kind = "MatchResults"
	KindMatchCancel     Kind = "MatchCancel"
	KindUsersInServer   Kind = "UsersInServer"
	KindSetMatchScore   Kind = "SetMatchScore"
	KindError           Kind = "Error"
)

// AdminKey is the ServerHello api key that identifies the admin client.
const AdminKey = "admin"

// Message is one of the variants defined in this file. The set is closed:
// only types in this package implement it.
type Message interface {
	Kind() Kind
	isMessage()
}

// Player is one roster entry reported by a game server.
type Player struct {
	SteamID string `json:"steamId"`
	Name    string `json:"name"`
}

// ServerHello identifies the role of a connection.
type ServerHello struct {
	APIKey     string `json:"apiKey"`
	ServerNum  string `json:"serverNum"`
	ServerHost string `json:"serverHost"`
	ServerPort string `json:"serverPort"`
	STVPort    string `json:"stvPort"`
}

// IsAdmin reports whether the hello comes from the admin client.
func (m ServerHello) IsAdmin() bool { return m.APIKey == AdminKey }

// MatchDetails assigns (or re-announces) a match to an arena.
type MatchDetails struct {
	ArenaID int    `json:"arenaId"`
	P1ID    string `json:"p1Id"`
	P2ID    string `json:"p2Id"`
}

type MatchBegan struct {
	P1ID string `json:"p1Id"`
	P2ID string `json:"p2Id"`
}

type TournamentStart struct{}

type TournamentStop struct{}

// MatchResults is the authoritative result for one arena.
type MatchResults struct {
	Winner   string `json:"winner"`
	Loser    string `json:"loser"`
	Finished bool   `json:"finished"`
	Arena    int    `json:"arena"`
}

// MatchCancel releases an arena without a result.
type MatchCancel struct {
	Delinquents []string `json:"delinquents"`
	Arrived     string   `json:"arrived"`
	Arena       int      `json:"arena"`
}

// UsersInServer replaces the roster.
type UsersInServer struct {
	Players []Player `json:"players"`
}

type SetMatchScore struct {
	ArenaID int `json:"arenaId"`
	P1Score int `json:"p1Score"`
	P2Score int `json:"p2Score"`
}

// Error is sent back in place of a message that could not be parsed.
type Error struct {
	Message string `json:"message"`
}

func (ServerHello) Kind() Kind     { return KindServerHello }
func (MatchDetails) Kind() Kind    { return KindMatchDetails }
func (MatchBegan) Kind() Kind      { return KindMatchBegan }
func (TournamentStart) Kind() Kind { return KindTournamentStart }
func (TournamentStop) Kind() Kind  { return KindTournamentStop }
func (MatchResults) Kind() Kind    { return KindMatchResults }
func (MatchCancel) Kind() Kind     { return KindMatchCancel }
func (UsersInServer) Kind() Kind   { return KindUsersInServer }
func (SetMatchScore) Kind() Kind   { return KindSetMatchScore }
func (Error) Kind() Kind           { return KindError }

func (ServerHello) isMessage()     {}
func (MatchDetails) isMessage()    {}
func (MatchBegan) isMessage()      {}
func (TournamentStart) isMessage() {}
func (TournamentStop) isMessage()  {}
func (MatchResults) isMessage()    {}
func (MatchCancel) isMessage()     {}
func (UsersInServer) isMessage()   {}
func (SetMatchScore) isMessage()   {}
func (Error) isMessage()           {}
