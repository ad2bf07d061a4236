package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/zakisheriff/Swing-Mates/backend/config"
	"github.com/zakisheriff/Swing-Mates/backend/fanout"
	"github.com/zakisheriff/Swing-Mates/backend/relay"
	httpServer "github.com/zakisheriff/Swing-Mates/backend/server/http"
	websocketServer "github.com/zakisheriff/Swing-Mates/backend/server/websocket"
	store "github.com/zakisheriff/Swing-Mates/backend/storage/memory"
	"github.com/zakisheriff/Swing-Mates/backend/vsmatch"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := config.Load()

	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)
	var (
		apiListenAddr  = fs.StringP("api-listen-addr", "a", cfg.APIListenAddr, "api listen address")
		wsListenAddr   = fs.StringP("ws-listen-addr", "w", cfg.WSListenAddr, "websocket listen address")
		logLevel       = fs.StringP("log-level", "l", cfg.LogLevel, "log level")
		vsCountdownSec = fs.Int("vs-countdown", cfg.VSCountdownSec, "default vs match countdown in seconds")
		chatHistory    = fs.Int("chat-history", cfg.ChatHistoryLimit, "chat messages kept per room")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	matches := vsmatch.NewCoordinator(vsmatch.Config{
		Logger:          &logger,
		DefaultDuration: time.Duration(*vsCountdownSec) * time.Second,
	})
	rly := relay.New(relay.Config{
		Logger:   &logger,
		Store:    store.NewMemStore(*chatHistory),
		Registry: fanout.NewRegistry(&logger),
		Matches:  matches,
	})
	matches.OnExpiry(rly.PostMatchExpiry)

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		ListenAddr: *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:     &logger,
		Relay:      rly,
		ListenAddr: *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go rly.Run(ctx, wg)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
