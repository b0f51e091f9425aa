package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"relaybot/internal/config"

	"github.com/spf13/cobra"
)

// channelMeta describes a platform the wizard can enable.
type channelMeta struct {
	ID      string
	Desc    string
	Secrets []secretMeta
}

type secretMeta struct {
	Label  string
	EnvVar string
	get    func(cfg *config.Config) string
	set    func(cfg *config.Config, v string)
}

var knownChannels = []channelMeta{
	{ID: "telegram", Desc: "Telegram bot (token from @BotFather)", Secrets: []secretMeta{
		{Label: "Bot token", EnvVar: "TELEGRAM_BOT_TOKEN",
			get: func(c *config.Config) string { return c.Channels.Telegram.Token },
			set: func(c *config.Config, v string) { c.Channels.Telegram.Token = v }},
	}},
	{ID: "discord", Desc: "Discord bot (needs the Message Content intent)", Secrets: []secretMeta{
		{Label: "Bot token", EnvVar: "DISCORD_BOT_TOKEN",
			get: func(c *config.Config) string { return c.Channels.Discord.Token },
			set: func(c *config.Config, v string) { c.Channels.Discord.Token = v }},
	}},
	{ID: "slack", Desc: "Slack app in Socket Mode", Secrets: []secretMeta{
		{Label: "Bot token (xoxb-)", EnvVar: "SLACK_BOT_TOKEN",
			get: func(c *config.Config) string { return c.Channels.Slack.BotToken },
			set: func(c *config.Config, v string) { c.Channels.Slack.BotToken = v }},
		{Label: "App token (xapp-)", EnvVar: "SLACK_APP_TOKEN",
			get: func(c *config.Config) string { return c.Channels.Slack.AppToken },
			set: func(c *config.Config, v string) { c.Channels.Slack.AppToken = v }},
	}},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: assistant → channels → transcription → save config",
		Long:  "Guides you through the assistant name, which chat platforms to connect (and their tokens) and the transcription endpoint. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), resolveConfigPath())
		},
	}
}

func runWizard(in io.Reader, out io.Writer, cfgPath string) error {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}
	yes := func(def bool) (bool, error) {
		d := "n"
		if def {
			d = "y"
		}
		s, err := prompt(d)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(strings.ToLower(s), "y"), nil
	}

	// Step 1: Assistant
	fmt.Fprintln(out, "\n--- Step 1: Assistant ---")
	fmt.Fprint(out, "Assistant name (messages starting with @Name are addressed to it)")
	name, err := prompt(cfg.General.AssistantName)
	if err != nil {
		return err
	}
	cfg.General.AssistantName = name

	// Step 2: Channels
	fmt.Fprintln(out, "\n--- Step 2: Channels ---")
	enabled := map[string]*bool{
		"telegram": &cfg.Channels.Telegram.Enabled,
		"discord":  &cfg.Channels.Discord.Enabled,
		"slack":    &cfg.Channels.Slack.Enabled,
	}
	for _, ch := range knownChannels {
		fmt.Fprintf(out, "Enable %s: %s?", ch.ID, ch.Desc)
		on, err := yes(*enabled[ch.ID])
		if err != nil {
			return err
		}
		*enabled[ch.ID] = on
		if !on {
			continue
		}
		for _, s := range ch.Secrets {
			fmt.Fprintf(out, "  %s: paste it or an env var reference", s.Label)
			def := "${" + s.EnvVar + "}"
			if cur := s.get(cfg); cur != "" {
				def = cur
			}
			v, err := prompt(def)
			if err != nil {
				return err
			}
			s.set(cfg, v)
		}
	}

	// Step 3: Transcription
	fmt.Fprintln(out, "\n--- Step 3: Voice transcription ---")
	fmt.Fprint(out, "Transcribe voice notes?")
	on, err := yes(cfg.Transcription.Enabled)
	if err != nil {
		return err
	}
	cfg.Transcription.Enabled = on
	if on {
		fmt.Fprint(out, "Whisper-compatible API base")
		if cfg.Transcription.APIBase, err = prompt(cfg.Transcription.APIBase); err != nil {
			return err
		}
		fmt.Fprint(out, "API key (empty uses ANTHROPIC_API_KEY)")
		key, err := prompt("")
		if err != nil {
			return err
		}
		if key != "" {
			cfg.Transcription.APIKey = key
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: run 'relaybot gateway', then register chats with 'relaybot groups add'.")
	return nil
}
