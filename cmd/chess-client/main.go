package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/clientbuilder"
	appcfg "github.com/park285/cheese-live/internal/config"
	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/rules"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// realMain returns the process exit code so deferred cleanup runs first.
func realMain(args []string, in io.Reader, out, errOut io.Writer) int {
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(errOut, "logger init error: %v\n", err)
		return 1
	}
	defer obslog.Sync()

	if len(args) == 0 {
		fmt.Fprint(out, helpText())
		return 0
	}

	cfg, err := appcfg.Load()
	if err != nil {
		fmt.Fprintf(errOut, "config error: %v\n", err)
		return 1
	}

	deps, err := clientbuilder.New(cfg, obslog.L())
	if err != nil {
		fmt.Fprintf(errOut, "client init error: %v\n", err)
		return 1
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, deps, in, out, args); err != nil {
		obslog.L().Error("command_failed", zap.String("command", args[0]), zap.Error(err))
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, deps *clientbuilder.Deps, in io.Reader, out io.Writer, args []string) error {
	cmd := strings.ToLower(args[0])
	rest := args[1:]
	api := deps.API
	f := deps.Formatter

	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(out, helpText())
		return nil
	case "play":
		id, err := gameArg(rest)
		if err != nil {
			return err
		}
		return play(ctx, deps, in, out, id)
	case "new":
		g, err := api.CreateGame(ctx)
		if err != nil {
			return fmt.Errorf("create game: %w", err)
		}
		fmt.Fprintf(out, "Created game #%d. Waiting for an opponent.\n", g.ID)
		return play(ctx, deps, in, out, strconv.FormatUint(uint64(g.ID), 10))
	case "join":
		id, err := gameArg(rest)
		if err != nil {
			return err
		}
		if _, err := api.JoinGame(ctx, id); err != nil {
			return fmt.Errorf("join game %s: %w", id, err)
		}
		return play(ctx, deps, in, out, id)
	case "list":
		games, err := api.ListGames(ctx)
		if err != nil {
			return fmt.Errorf("list games: %w", err)
		}
		fmt.Fprint(out, f.Games(games))
		return nil
	case "history":
		id, err := gameArg(rest)
		if err != nil {
			return err
		}
		g, err := api.GetGame(ctx, id)
		if err != nil {
			return fmt.Errorf("load game %s: %w", id, err)
		}
		ucis, err := api.History(ctx, id)
		if err != nil {
			return fmt.Errorf("load history %s: %w", id, err)
		}
		san, err := replaySAN(ucis)
		if err != nil {
			return fmt.Errorf("replay history %s: %w", id, err)
		}
		fmt.Fprint(out, f.History(g, san))
		return nil
	case "match":
		id, err := findMatch(ctx, deps, out, 2*time.Second)
		if err != nil {
			return err
		}
		return play(ctx, deps, in, out, id)
	case "me":
		u, err := api.Me(ctx)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		fmt.Fprint(out, f.Profile(u))
		return nil
	default:
		return fmt.Errorf("unknown command %q; try 'help'", cmd)
	}
}

func helpText() string {
	return strings.Join([]string{
		"chess-client <command>",
		"",
		"  play <id>     open a live game view",
		"  new           create a game and wait for an opponent",
		"  join <id>     join an open game and play it",
		"  list          list games",
		"  history <id>  print a game's moves",
		"  match         queue for a random opponent",
		"  me            show your profile",
		"",
		"In a game: type a move (e2e4 or e4), /moves <square>, /help, /quit.",
		"",
	}, "\n")
}

func gameArg(args []string) (string, error) {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("game id required")
	}
	id := strings.TrimPrefix(strings.TrimSpace(args[0]), "#")
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", fmt.Errorf("invalid game id %q", args[0])
	}
	return id, nil
}

// replaySAN converts a stored UCI history into SAN from the initial position.
func replaySAN(ucis []string) ([]string, error) {
	_, moves, err := rules.MustStart().Replay(ucis)
	if err != nil {
		return nil, err
	}
	san := make([]string, 0, len(moves))
	for _, m := range moves {
		san = append(san, m.SAN)
	}
	return san, nil
}
