package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-live/internal/domain"
)

func TestBuildPGN(t *testing.T) {
	g := domain.LiveGame{
		GameID:      "17",
		White:       `Bob "the rook"`,
		TimeControl: 600,
		Result:      "black_wins",
		Termination: "Checkmate",
		UpdatedAt:   time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC),
		Moves: []domain.Ply{
			{UCI: "f2f3", SAN: "f3"}, {UCI: "e7e5", SAN: "e5"},
			{UCI: "g2g4", SAN: "g4"}, {UCI: "d8h4", SAN: "Qh4#"},
		},
	}
	pgn := buildPGN(g, mapResultToPGN(g.Result))
	for _, want := range []string{
		`[Date "2025.03.09"]`,
		`[White "Bob 'the rook'"]`,
		`[Black "?"]`,
		`[TimeControl "600"]`,
		`[Termination "checkmate"]`,
		`[Result "0-1"]`,
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestBuildPGN_OddMoveCount(t *testing.T) {
	g := domain.LiveGame{Moves: []domain.Ply{{SAN: "e4"}, {SAN: "e5"}, {SAN: "Nf3"}}}
	pgn := buildPGN(g, mapResultToPGN(""))
	if !strings.HasSuffix(pgn, "1. e4 e5 2. Nf3 *") {
		t.Fatalf("unexpected movetext: %q", pgn)
	}
}

func TestMapResultToPGN(t *testing.T) {
	cases := map[string]string{"white_wins": "1-0", "black_wins": "0-1", "draw": "1/2-1/2", "": "*", "other": "*"}
	for in, want := range cases {
		if got := mapResultToPGN(in); got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}
}

func TestRepository_RequiresURL(t *testing.T) {
	if _, err := NewRepository("  "); err == nil {
		t.Fatalf("expected error for empty DATABASE_URL")
	}
	var r *Repository
	if err := r.SaveFinished(context.Background(), domain.LiveGame{}); err != nil {
		t.Fatalf("nil repository should be a no-op: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
