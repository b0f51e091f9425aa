package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "relaybot: multi-channel chat relay for an assistant",
		Long: `relaybot connects Telegram, Discord and Slack to one assistant. It normalizes
inbound messages, gates them on chat registration, transcribes voice notes and
delivers replies split to each platform's length limit.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.relaybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(transcribeCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(groupsCmd())
	root.AddCommand(chatsCmd())
	root.AddCommand(messagesCmd())
	root.AddCommand(costsCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relaybot", version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config and swaps the bootstrap logger for the
// configured one. The returned func closes the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	l, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	slog.SetDefault(l)
	return cfg, closeLog, nil
}

// openStore loads the config and opens the relay database.
func openStore() (*config.Config, *store.Store, func(), error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		closeLog()
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, func() {
		st.Close()
		closeLog()
	}, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			groupsPath := filepath.Join(dataDir, "groups.yaml")
			if _, err := os.Stat(groupsPath); os.IsNotExist(err) {
				if err := store.WriteGroupsFile(groupsPath, nil); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "data_dir", dataDir, "groups", groupsPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, registrations and today's spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			enabled := cfg.EnabledChannels()
			if len(enabled) == 0 {
				enabled = []string{"(none)"}
			}
			fmt.Printf("Config:        %s\n", resolveConfigPath())
			fmt.Printf("Database:      %s\n", cfg.Store.DBPath)
			fmt.Printf("Assistant:     %s\n", cfg.General.AssistantName)
			fmt.Printf("Channels:      %v\n", enabled)
			fmt.Printf("Registered:    %d chats\n", len(st.RegisteredGroups()))
			chats, err := st.ListChats(ctx, 0)
			if err != nil {
				return err
			}
			fmt.Printf("Discovered:    %d chats\n", len(chats))
			spent, err := newLedger(st).TodayUSD(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Spent today:   $%.4f\n", spent)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. channels.telegram.parseMode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.discord.enabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every settable path with its value",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
