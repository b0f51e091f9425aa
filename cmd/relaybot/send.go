package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relaybot/internal/channel"
	"relaybot/internal/domain"
	"relaybot/internal/transcribe"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <jid> [text]",
		Short: "Deliver a message through the channel that owns jid",
		Long: `Connects the channel owning jid (tg:, dc: or slack:), delivers text split to the
platform limit and disconnects. Reads the text from stdin when it is omitted.
The channel is opened send-only, so a running gateway keeps receiving every
inbound message.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			text, err := messageText(args[1:], cmd.InOrStdin())
			if err != nil {
				return err
			}

			channels, err := buildChannels(cfg, domain.Callbacks{}, nil, true)
			if err != nil {
				return err
			}
			router := channel.NewRouter(logger, channels...)
			ch, err := router.Find(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			if err := ch.Connect(ctx); err != nil {
				return err
			}
			defer func() {
				dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = ch.Disconnect(dctx)
			}()

			logger.Info("sending", "chat_jid", args[0], "channel", ch.Name(), "bytes", len(text))
			return router.Send(ctx, args[0], text)
		},
	}
}

func messageText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty message")
	}
	return text, nil
}

func transcribeCmd() *cobra.Command {
	var folder, jid string
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file with the configured endpoint",
		Long:  "Runs a local audio file through the same transcription pipeline the gateway uses. Usage is recorded in the ledger under --folder.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			if !cfg.Transcription.Enabled {
				return fmt.Errorf("transcription is disabled (transcription.enabled=false)")
			}
			pipeline := newPipeline(cfg, newLedger(st))
			defer pipeline.Wait()

			path := args[0]
			attempts := time.Duration(cfg.Transcription.MaxRetries + 1)
			ctx, cancel := context.WithTimeout(context.Background(), attempts*time.Duration(cfg.Transcription.TimeoutSeconds+5)*time.Second)
			defer cancel()

			out := pipeline.TranscribeMessage(ctx, func(context.Context) ([]byte, error) {
				return os.ReadFile(path)
			}, folder, jid)
			logger.Info("transcription finished", "file", filepath.Base(path), "state", out.State)
			fmt.Println(out.Text)
			if out.State != transcribe.StateSucceeded {
				return fmt.Errorf("transcription %s", out.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "cli", "group folder recorded in the usage ledger")
	cmd.Flags().StringVar(&jid, "jid", "cli:local", "chat JID recorded in the usage ledger")
	return cmd
}
