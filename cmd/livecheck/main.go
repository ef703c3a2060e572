package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-live/internal/gameapi"
	"github.com/park285/cheese-live/internal/livews"
	"github.com/park285/cheese-live/pkg/liveproto"
)

func main() {
	serverURL := os.Getenv("CHESS_SERVER_URL")
	wsBase := os.Getenv("CHESS_WS_URL")
	token := os.Getenv("CHESS_TOKEN")

	if serverURL == "" {
		log.Fatal("CHESS_SERVER_URL is required")
	}
	if len(os.Args) < 2 {
		log.Fatal("usage: livecheck <game-id> [seconds]")
	}
	gameID := os.Args[1]
	window := 10 * time.Second
	if len(os.Args) > 2 {
		if d, err := time.ParseDuration(os.Args[2] + "s"); err == nil && d > 0 {
			window = d
		}
	}

	client := gameapi.NewClient(serverURL,
		gameapi.WithToken(func() string { return token }),
		gameapi.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, err := client.GetGame(ctx, gameID)
	if err != nil {
		log.Printf("GET /games/%s error: %v", gameID, err)
	} else {
		log.Printf("GET /games/%s ok: status=%s result=%q fen=%s clocks=%d/%d", gameID, g.Status, g.Result, g.CurrentFEN, g.WhiteTimeLeft, g.BlackTimeLeft)
	}

	wsURL, err := livews.GameURL(serverURL, wsBase, gameID, token)
	if err != nil {
		log.Fatalf("ws url error: %v", err)
	}
	dialer := &livews.WSDialer{
		URL:     wsURL,
		Headers: func() map[string]string { return map[string]string{"Authorization": "Bearer " + token} },
	}
	mgr := livews.NewManager(dialer, livews.Options{MaxAttempts: 2, BaseDelay: time.Second})
	mgr.OnEvent(func(ev livews.Event) {
		log.Printf("WS event: %s attempt=%d delay=%s err=%v", ev.Kind, ev.Attempt, ev.Delay, ev.Err)
	})
	mgr.OnMessage(func(msg liveproto.Message) {
		fmt.Printf("WS frame %s: %+v\n", msg.Kind(), msg)
	})
	mgr.Connect()

	// Observe for a short window
	t := time.NewTimer(window)
	<-t.C
	cctx, ccancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer ccancel()
	_ = mgr.Close(cctx)
}
