package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/store"
	"relaybot/internal/transcribe"
	"relaybot/internal/usage"

	"github.com/spf13/cobra"
)

const (
	shutdownTimeout  = 10 * time.Second
	reloadInterval   = 15 * time.Second
	busBufferSize    = 100
	storeMessageWait = 5 * time.Second
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Connect every enabled channel and relay messages",
		Long:  "Connects the enabled channels (Telegram, Discord, Slack), forwards messages from registered chats to the message store and serves metrics. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func newLedger(st *store.Store) *usage.Ledger {
	return usage.NewLedger(st.DB(), logger)
}

// newPipeline returns the voice transcriber, or nil when transcription is
// disabled.
func newPipeline(cfg *config.Config, ledger domain.UsageRecorder) *transcribe.Pipeline {
	tr := cfg.Transcription
	if !tr.Enabled {
		return nil
	}
	stt := transcribe.NewWhisper(transcribe.WhisperConfig{
		APIBase:    tr.APIBase,
		APIKey:     tr.APIKey,
		Model:      tr.Model,
		Language:   tr.Language,
		Timeout:    time.Duration(tr.TimeoutSeconds) * time.Second,
		MaxRetries: tr.MaxRetries,
		Logger:     logger,
	})
	if !stt.Configured() {
		logger.Warn("transcription enabled but no API key set; voice notes will be forwarded as unavailable")
	}
	return transcribe.NewPipeline(transcribe.PipelineConfig{
		Transcriber: stt,
		Usage:       ledger,
		UsageModel:  tr.UsageModel,
		Logger:      logger,
	})
}

// buildChannels constructs the enabled channels. Send-only channels connect
// without consuming inbound events.
func buildChannels(cfg *config.Config, callbacks domain.Callbacks, voice channel.VoiceTranscriber, sendOnly bool) ([]domain.Channel, error) {
	trigger, err := channel.CompileTrigger(cfg.General.TriggerPattern, cfg.General.AssistantName)
	if err != nil {
		return nil, err
	}
	name := cfg.General.AssistantName

	var channels []domain.Channel
	if tg := cfg.Channels.Telegram; tg.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:            tg.Token,
			ParseMode:        tg.ParseMode,
			MaxMessageLength: tg.MaxMessageLength,
			AssistantName:    name,
			Trigger:          trigger,
			Callbacks:        callbacks,
			Voice:            voice,
			Logger:           logger.With("channel", "telegram"),
			SendOnly:         sendOnly,
		}))
	}
	if dc := cfg.Channels.Discord; dc.Enabled {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:         dc.Token,
			GuildID:       dc.GuildID,
			AssistantName: name,
			Trigger:       trigger,
			Callbacks:     callbacks,
			Voice:         voice,
			Logger:        logger.With("channel", "discord"),
			SendOnly:      sendOnly,
		}))
	}
	if sl := cfg.Channels.Slack; sl.Enabled {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken:      sl.BotToken,
			AppToken:      sl.AppToken,
			AssistantName: name,
			Trigger:       trigger,
			Callbacks:     callbacks,
			Voice:         voice,
			Logger:        logger.With("channel", "slack"),
			SendOnly:      sendOnly,
		}))
	}
	return channels, nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, st, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	messageBus := bus.New(busBufferSize, logger)

	pipeline := newPipeline(cfg, newLedger(st))
	var voice channel.VoiceTranscriber
	if pipeline != nil {
		voice = pipeline
		defer pipeline.Wait()
	}

	callbacks := domain.Callbacks{
		OnMessage:        func(_ string, msg domain.InboundMessage) { messageBus.Publish(msg) },
		OnChatMetadata:   st.RecordChatMetadata,
		RegisteredGroups: st.RegisteredGroups,
	}
	channels, err := buildChannels(cfg, callbacks, voice, false)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return errors.New("no channels enabled; set channels.<name>.enabled in the config")
	}
	router := channel.NewRouter(logger, channels...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		consumeInbound(messageBus, st)
		return nil
	})
	g.Go(func() error {
		reloadRegistrations(gctx, st)
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics)
		})
	}

	if err := router.ConnectAll(ctx); err != nil {
		stop()
		messageBus.Close()
		_ = g.Wait()
		return err
	}
	logger.Info("gateway started. Press Ctrl+C to stop.",
		"channels", router.Status(), "registered", len(st.RegisteredGroups()))

	<-gctx.Done()
	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := router.DisconnectAll(shutdownCtx); err != nil {
		logger.Warn("disconnect", "err", err)
	}
	messageBus.Close()

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// consumeInbound persists forwarded messages until the bus is closed.
func consumeInbound(b domain.MessageBus, st *store.Store) {
	for msg := range b.Subscribe() {
		ctx, cancel := context.WithTimeout(context.Background(), storeMessageWait)
		if err := st.StoreMessage(ctx, msg); err != nil {
			logger.Error("store inbound message", "chat_jid", msg.ChatJID, "id", msg.ID, "err", err)
		}
		cancel()
	}
}

// reloadRegistrations refreshes the registration snapshot so chats added
// with `relaybot groups add` are picked up without a restart.
func reloadRegistrations(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.Reload(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("reload registrations", "err", err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, metrics.Collector.Handler())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", cfg.Listen, "endpoint", cfg.Endpoint)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
