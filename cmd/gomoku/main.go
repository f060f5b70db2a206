package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gomoku-client/internal/clients"
	"github.com/mcdev12/gomoku-client/internal/config"
	"github.com/mcdev12/gomoku-client/internal/realtime"
	"github.com/mcdev12/gomoku-client/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	configPath := flag.String("config", "config.yml", "path to config file")
	matchID := flag.String("match", "", "match identifier to join")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	userID := os.Getenv("USER_ID")
	token := os.Getenv("ACCESS_TOKEN")
	if userID == "" || token == "" || *matchID == "" {
		logger.Fatal().Msg("USER_ID, ACCESS_TOKEN and -match are required")
	}

	clock := clockwork.NewRealClock()
	gameClient := clients.NewGameClient(cfg.GameServiceURL, logger)
	profileClient := clients.NewProfileClient(cfg.ProfileServiceURL, logger)

	channelCfg := realtime.DefaultConfig(cfg.GatewayURL)
	channelCfg.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	channel := realtime.NewClient(channelCfg, clock, logger)
	defer channel.Disconnect()

	if err := channel.Connect(token); err != nil {
		logger.Warn().Err(err).Msg("gateway unavailable, continuing offline")
	}

	controller := session.NewController(userID, gameClient, profileClient, channel, clock, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := controller.LoadSession(ctx, *matchID); err != nil {
		logger.Fatal().Err(err).Str("match_id", *matchID).Msg("failed to load session")
	}

	go controller.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return
		case snapshot := <-controller.Updates():
			logger.Info().
				Str("status", string(snapshot.Status)).
				Bool("my_turn", snapshot.MyTurn).
				Int("my_time", snapshot.MyTime).
				Int("opponent_time", snapshot.OpponentTime).
				Int("moves", len(snapshot.MoveHistory)).
				Bool("connected", snapshot.Connection.Connected).
				Msg("session state")
		case notice := <-controller.Notices():
			logger.Info().
				Str("kind", string(notice.Kind)).
				Str("result", string(notice.Result)).
				Err(notice.Err).
				Msg("notice")
		}
	}
}
