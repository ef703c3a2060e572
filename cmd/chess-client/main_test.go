package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-live/internal/domain"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/internal/session"
)

func TestGameArg(t *testing.T) {
	if id, err := gameArg([]string{"#42"}); err != nil || id != "42" {
		t.Fatalf("gameArg(#42) = %q, %v", id, err)
	}
	for _, bad := range [][]string{nil, {""}, {"abc"}, {"-1"}} {
		if _, err := gameArg(bad); err == nil {
			t.Fatalf("gameArg(%v) should fail", bad)
		}
	}
}

func TestReplaySAN(t *testing.T) {
	san, err := replaySAN([]string{"e2e4", "e7e5", "g1f3"})
	if err != nil {
		t.Fatalf("replaySAN: %v", err)
	}
	if strings.Join(san, " ") != "e4 e5 Nf3" {
		t.Fatalf("san = %v", san)
	}
	if _, err := replaySAN([]string{"e2e5"}); err == nil {
		t.Fatalf("expected illegal move error")
	}
}

func TestNewestSeatedGame(t *testing.T) {
	me, other := uint(7), uint(8)
	now := time.Now()
	games := []domain.Game{
		{ID: 1, Status: "active", WhitePlayerID: &me, CreatedAt: now.Add(-time.Hour)},
		{ID: 2, Status: "finished", BlackPlayerID: &me, CreatedAt: now},
		{ID: 3, Status: "waiting", WhitePlayerID: &other, CreatedAt: now},
		{ID: 4, Status: "active", BlackPlayerID: &me, WhitePlayerID: &other, CreatedAt: now.Add(-time.Minute)},
	}
	g := newestSeatedGame(games, me)
	if g == nil || g.ID != 4 {
		t.Fatalf("picked %+v", g)
	}
	if newestSeatedGame(games[1:3], me) != nil {
		t.Fatalf("finished and foreign games should be skipped")
	}
}

func TestTargetsLine(t *testing.T) {
	v := session.View{FEN: rules.StartFEN}
	if got := targetsLine(v, "G1"); got != "g1: f3 h3" && got != "g1: h3 f3" {
		t.Fatalf("targets = %q", got)
	}
	if got := targetsLine(v, "e4"); !strings.Contains(got, "no legal moves") {
		t.Fatalf("targets = %q", got)
	}
	if got := targetsLine(v, "z9"); !strings.Contains(got, "invalid square") {
		t.Fatalf("targets = %q", got)
	}
}

func TestRealMain_ExitCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such route"}`))
	}))
	defer srv.Close()

	logPath := filepath.Join(t.TempDir(), "client.log")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", logPath)
	t.Setenv("CHESS_SERVER_URL", "")
	t.Setenv("CHESS_TOKEN", "")
	for _, k := range []string{"REDIS_URL", "DATABASE_URL", "MESSAGES_DIR"} {
		t.Setenv(k, "")
	}

	var out, errOut bytes.Buffer
	if code := realMain(nil, strings.NewReader(""), &out, &errOut); code != 0 || !strings.Contains(out.String(), "play <id>") {
		t.Fatalf("help: code=%d out=%q", code, out.String())
	}

	errOut.Reset()
	if code := realMain([]string{"list"}, strings.NewReader(""), &out, &errOut); code != 1 || !strings.Contains(errOut.String(), "config error") {
		t.Fatalf("missing config: code=%d err=%q", code, errOut.String())
	}

	t.Setenv("CHESS_SERVER_URL", srv.URL)
	t.Setenv("CHESS_TOKEN", "secret")
	t.Setenv("HTTP_RETRY_MAX", "1")
	errOut.Reset()
	if code := realMain([]string{"list"}, strings.NewReader(""), &out, &errOut); code != 1 || !strings.Contains(errOut.String(), "list games") {
		t.Fatalf("failing command: code=%d err=%q", code, errOut.String())
	}
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), "command_failed") {
		t.Fatalf("failure was not logged: %q", raw)
	}
}
