package domain

import "time"

// Game is the REST representation of a game.
type Game struct {
	ID            uint      `json:"id"`
	WhitePlayerID *uint     `json:"whitePlayerId"`
	BlackPlayerID *uint     `json:"blackPlayerId"`
	Status        string    `json:"status"`
	Result        string    `json:"result"`
	CurrentFEN    string    `json:"currentFEN"`
	PGN           string    `json:"pgn"`
	TimeControl   int       `json:"timeControl"`
	WhiteTimeLeft int       `json:"whiteTimeLeft"`
	BlackTimeLeft int       `json:"blackTimeLeft"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	WhitePlayer   *User     `json:"whitePlayer,omitempty"`
	BlackPlayer   *User     `json:"blackPlayer,omitempty"`
}

// MoveRecord is one stored ply from the history endpoint.
type MoveRecord struct {
	ID           uint      `json:"id"`
	GameID       uint      `json:"gameId"`
	PlayerID     uint      `json:"playerId"`
	MoveNotation string    `json:"moveNotation"`
	BoardState   string    `json:"boardState"`
	PlyNumber    int       `json:"plyNumber"`
	CreatedAt    time.Time `json:"createdAt"`
}

type User struct {
	ID          uint      `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	AvatarURL   string    `json:"avatarUrl"`
	ELORating   int       `json:"eloRating"`
	GamesPlayed int       `json:"gamesPlayed"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MatchResult is returned by the matchmaking find endpoint.
type MatchResult struct {
	Matched  bool   `json:"matched"`
	Game     *Game  `json:"game,omitempty"`
	Position int    `json:"position"`
	Message  string `json:"message"`
}

// QueueStatus is returned by the matchmaking status endpoint.
type QueueStatus struct {
	InQueue  bool `json:"inQueue"`
	Position int  `json:"position"`
}

// Ply is one authoritative move in both notations. UCI may be empty when the
// server only sent SAN.
type Ply struct {
	UCI string `json:"uci"`
	SAN string `json:"san"`
}

// LiveGame is the last authoritative state a live session observed.
type LiveGame struct {
	GameID        string    `json:"game_id"`
	Side          string    `json:"side"`
	White         string    `json:"white,omitempty"`
	Black         string    `json:"black,omitempty"`
	FEN           string    `json:"fen"`
	Status        string    `json:"status"`
	Result        string    `json:"result"`
	WhiteTimeLeft int       `json:"white_time_left"`
	BlackTimeLeft int       `json:"black_time_left"`
	TimeControl   int       `json:"time_control"`
	Moves         []Ply     `json:"moves"`
	Termination   string    `json:"termination,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (g *LiveGame) MovesUCI() []string {
	out := make([]string, 0, len(g.Moves))
	for _, p := range g.Moves {
		out = append(out, p.UCI)
	}
	return out
}

func (g *LiveGame) MovesSAN() []string {
	out := make([]string, 0, len(g.Moves))
	for _, p := range g.Moves {
		out = append(out, p.SAN)
	}
	return out
}
