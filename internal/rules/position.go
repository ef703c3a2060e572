package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Color is the side to move or a player's side.
type Color int8

const (
	NoColor Color = iota
	White
	Black
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return ""
	}
}

// Opposite returns the other side. NoColor stays NoColor.
func (c Color) Opposite() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoColor
	}
}

func colorFrom(c nchess.Color) Color {
	switch c {
	case nchess.White:
		return White
	case nchess.Black:
		return Black
	default:
		return NoColor
	}
}

// Move is one applied move in both notations.
type Move struct {
	UCI  string
	SAN  string
	From string
	To   string
}

// Position is an immutable board state. Apply returns a new Position and
// never touches the receiver.
type Position struct {
	game *nchess.Game
}

// ParsePosition accepts a FEN string; "" and "startpos" mean the initial position.
func ParsePosition(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || strings.EqualFold(fen, "startpos") {
		return &Position{game: nchess.NewGame()}, nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return &Position{game: nchess.NewGame(opt)}, nil
}

// MustStart returns the initial position.
func MustStart() *Position {
	return &Position{game: nchess.NewGame()}
}

func (p *Position) FEN() string {
	if p == nil || p.game == nil {
		return ""
	}
	return p.game.FEN()
}

// Ply counts half-moves played since the initial position, derived from the
// fullmove number and side to move.
func (p *Position) Ply() int {
	fields := strings.Fields(p.FEN())
	if len(fields) < 6 {
		return 0
	}
	full, err := strconv.Atoi(fields[5])
	if err != nil || full < 1 {
		return 0
	}
	ply := (full - 1) * 2
	if fields[1] == "b" {
		ply++
	}
	return ply
}

// SameBoard reports whether both positions have identical placement and side to move.
func (p *Position) SameBoard(other *Position) bool {
	a, b := strings.Fields(p.FEN()), strings.Fields(other.FEN())
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	return a[0] == b[0] && a[1] == b[1]
}

// Turn is the side to move.
func (p *Position) Turn() Color {
	if p == nil || p.game == nil {
		return NoColor
	}
	return colorFrom(p.game.Position().Turn())
}

// InCheck reports whether the side to move is in check.
func (p *Position) InCheck() bool {
	if p == nil || p.game == nil {
		return false
	}
	pos := p.game.Position()
	return kingAttacked(pos.Board(), pos.Turn())
}

// Terminal reports whether the game can no longer continue from here and a
// lowercase reason such as "checkmate" or "stalemate".
func (p *Position) Terminal() (bool, string) {
	if p == nil || p.game == nil {
		return false, ""
	}
	if p.game.Outcome() != nchess.NoOutcome {
		return true, strings.ToLower(p.game.Method().String())
	}
	if len(p.game.ValidMoves()) > 0 {
		return false, ""
	}
	if p.InCheck() {
		return true, "checkmate"
	}
	return true, "stalemate"
}

// LegalTargets lists destination squares reachable from the given square.
// An empty square or one holding the opponent's piece yields no targets.
func (p *Position) LegalTargets(from string) ([]string, error) {
	if p == nil || p.game == nil {
		return nil, nil
	}
	from = strings.ToLower(strings.TrimSpace(from))
	if _, err := parseSquare(from); err != nil {
		return nil, err
	}
	var out []string
	for _, mv := range p.game.ValidMoves() {
		if mv.S1().String() != from {
			continue
		}
		to := mv.S2().String()
		if !containsString(out, to) {
			out = append(out, to)
		}
	}
	return out, nil
}

// Apply plays a move given in UCI (preferred) or SAN on a copy of the position.
// A bare four-character pawn move to the last rank is promoted to a queen.
func (p *Position) Apply(move string) (*Position, Move, error) {
	if p == nil || p.game == nil {
		return nil, Move{}, ErrNoPosition
	}
	raw := strings.TrimSpace(move)
	if raw == "" {
		return nil, Move{}, ErrEmptyMove
	}
	next := p.game.Clone()
	before := next.Position()

	uci := p.completePromotion(strings.ToLower(raw))
	if err := next.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		next = p.game.Clone()
		before = next.Position()
		if serr := next.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); serr != nil {
			return nil, Move{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
		}
	}
	last := lastMove(next)
	if last == nil {
		return nil, Move{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}
	applied := Move{
		UCI:  strings.ToLower(nchess.UCINotation{}.Encode(before, last)),
		SAN:  nchess.AlgebraicNotation{}.Encode(before, last),
		From: last.S1().String(),
		To:   last.S2().String(),
	}
	return &Position{game: next}, applied, nil
}

// Replay applies moves in order and returns the final position with each applied move.
func (p *Position) Replay(moves []string) (*Position, []Move, error) {
	cur := p
	out := make([]Move, 0, len(moves))
	for i, m := range moves {
		next, applied, err := cur.Apply(m)
		if err != nil {
			return nil, nil, fmt.Errorf("replay ply %d: %w", i+1, err)
		}
		out = append(out, applied)
		cur = next
	}
	return cur, out, nil
}

// Rows returns the board as eight strings from rank 8 down to rank 1, files a..h,
// using FEN piece letters and '.' for empty squares.
func (p *Position) Rows() [8]string {
	var rows [8]string
	if p == nil || p.game == nil {
		for i := range rows {
			rows[i] = "........"
		}
		return rows
	}
	board := p.game.Position().Board()
	for r := 0; r < 8; r++ {
		var sb strings.Builder
		rank := nchess.Rank(7 - r)
		for f := 0; f < 8; f++ {
			piece := board.Piece(nchess.NewSquare(nchess.File(f), rank))
			sb.WriteByte(pieceLetter(piece))
		}
		rows[r] = sb.String()
	}
	return rows
}

func (p *Position) completePromotion(uci string) string {
	if len(uci) != 4 {
		return uci
	}
	from, err := parseSquare(uci[:2])
	if err != nil {
		return uci
	}
	to, err := parseSquare(uci[2:])
	if err != nil {
		return uci
	}
	piece := p.game.Position().Board().Piece(from)
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return uci
	}
	if (piece.Color() == nchess.White && to.Rank() == nchess.Rank8) ||
		(piece.Color() == nchess.Black && to.Rank() == nchess.Rank1) {
		return uci + "q"
	}
	return uci
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func parseSquare(s string) (nchess.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("%w: %q", ErrInvalidSquare, s)
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), nil
}

func pieceLetter(piece nchess.Piece) byte {
	var c byte
	switch piece.Type() {
	case nchess.King:
		c = 'k'
	case nchess.Queen:
		c = 'q'
	case nchess.Rook:
		c = 'r'
	case nchess.Bishop:
		c = 'b'
	case nchess.Knight:
		c = 'n'
	case nchess.Pawn:
		c = 'p'
	default:
		return '.'
	}
	if piece.Color() == nchess.White {
		c -= 'a' - 'A'
	}
	return c
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
