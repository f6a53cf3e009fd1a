// Copyright 2024-2026 Aiku AI

// Command slackcord is a one-way Slack-to-Discord relay. It mirrors Slack
// messages into a Discord guild as rich embeds, tracks the identity of every
// mirrored message in SQLite, and reconciles edits, deletions, pins, and
// channel metadata changes against those mappings.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/aiku/slackcord/pkg/config"
	"github.com/aiku/slackcord/pkg/discord"
	"github.com/aiku/slackcord/pkg/files"
	"github.com/aiku/slackcord/pkg/fileserver"
	"github.com/aiku/slackcord/pkg/relay"
	"github.com/aiku/slackcord/pkg/slack"
	"github.com/aiku/slackcord/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("slackcord %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}

	// Tokens are commonly kept in a .env next to the binary.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	log := setupLogging(cfg.Logging)
	log.Info().Str("tag", Tag).Str("commit", Commit).Msg("Starting slackcord")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Relay failed")
	}
}

func setupLogging(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Format == "json" {
		log = zerolog.New(os.Stdout)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMilli})
	}
	log = log.Level(level).With().Timestamp().Logger()
	zlog.Logger = log
	return log
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mappings, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open mapping store: %w", err)
	}
	defer mappings.Close()

	downloads, err := files.New(cfg.Files.Dir, cfg.Slack.BotToken, cfg.Files.DisableDeletion, log)
	if err != nil {
		return fmt.Errorf("prepare download directory: %w", err)
	}

	dispatcher, err := discord.New(cfg.Discord.Token, cfg.Discord.GuildID, log)
	if err != nil {
		return fmt.Errorf("connect to Discord: %w", err)
	}
	defer dispatcher.Close()

	// The server carries the webhook the adapter is built around, and the
	// engine cites the server as its file host; the webhook is bound through
	// a closure so the server can be constructed first.
	var adapter *slack.Adapter
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adapter.Handler().ServeHTTP(w, r)
	})
	server := fileserver.New(fileserver.Config{
		Addr:       cfg.Server.Addr,
		Dir:        downloads.Dir(),
		PublicBase: cfg.Server.PublicBase,
		Serve:      cfg.Server.ServeFiles,
		Listing:    cfg.Server.Listing,
	}, webhook, log)

	engine := relay.New(mappings, dispatcher, relay.Options{
		Cleaner: downloads,
		Host:    server,
	}, log)
	adapter = slack.New(slack.Config{
		BotToken:           cfg.Slack.BotToken,
		SigningSecret:      cfg.Slack.SigningSecret,
		DisableChannelJoin: cfg.Slack.DisableChannelJoin,
		DisableBotLookup:   cfg.Slack.DisableBotLookup,
	}, engine, downloads, log)

	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("start Slack adapter: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	log.Info().Msg("Relay is up")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
