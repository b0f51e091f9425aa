package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

const (
	launchdLabel = "com.relaybot.gateway"
	systemdUnit  = "relaybot.service"
)

// serviceSpec is everything a service definition needs to start the gateway.
type serviceSpec struct {
	Label   string
	Exec    string
	Config  string
	Log     string
	ErrLog  string
	WorkDir string
}

// serviceTarget is one supported init system.
type serviceTarget struct {
	path     func(home string) string
	template *template.Template
	hints    func(path string) []string
}

var serviceTargets = map[string]serviceTarget{
	"darwin": {
		path: func(home string) string {
			return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		},
		template: template.Must(template.New("launchd").Parse(launchdTemplate)),
		hints: func(path string) []string {
			return []string{
				"To start: launchctl load " + path,
				"To stop:  launchctl unload " + path,
			}
		},
	},
	"linux": {
		path: func(home string) string {
			return filepath.Join(home, ".config", "systemd", "user", systemdUnit)
		},
		template: template.Must(template.New("systemd").Parse(systemdTemplate)),
		hints: func(string) []string {
			return []string{
				"To start:  systemctl --user daemon-reload && systemctl --user start relaybot",
				"To enable: systemctl --user enable relaybot",
				"Logs:      journalctl --user -u relaybot -f",
			}
		},
	},
}

func currentTarget() (serviceTarget, error) {
	t, ok := serviceTargets[runtime.GOOS]
	if !ok {
		return serviceTarget{}, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
	return t, nil
}

func newServiceSpec(cfgPath string) (serviceSpec, error) {
	execPath, err := os.Executable()
	if err != nil {
		return serviceSpec{}, fmt.Errorf("cannot determine executable path: %w", err)
	}
	dir := config.DefaultConfigDir()
	return serviceSpec{
		Label:   launchdLabel,
		Exec:    execPath,
		Config:  cfgPath,
		Log:     filepath.Join(dir, "logs", "gateway.log"),
		ErrLog:  filepath.Join(dir, "logs", "gateway-error.log"),
		WorkDir: dir,
	}, nil
}

func renderService(t serviceTarget, spec serviceSpec) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.template.Execute(&buf, spec); err != nil {
		return nil, fmt.Errorf("render service file: %w", err)
	}
	return buf.Bytes(), nil
}

func installDaemonCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the relay gateway as a user service (launchd/systemd)",
		Long:  "Writes a launchd agent or systemd user unit that runs 'relaybot gateway' at login and restarts it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := currentTarget()
			if err != nil {
				return err
			}
			spec, err := newServiceSpec(resolveConfigPath())
			if err != nil {
				return err
			}
			data, err := renderService(t, spec)
			if err != nil {
				return err
			}
			if printOnly {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path := t.path(home)
			for _, dir := range []string{filepath.Dir(path), filepath.Dir(spec.Log)} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Service installed: %s\n", path)
			for _, h := range t.hints(path) {
				fmt.Println(h)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the service file instead of installing it")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relay gateway service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := currentTarget()
			if err != nil {
				return err
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path := t.path(home)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service uninstalled: %s\n", path)
			return nil
		},
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>gateway</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>WorkingDirectory</key>
    <string>{{.WorkDir}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=relaybot chat relay gateway
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
ExecStart={{.Exec}} gateway --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
