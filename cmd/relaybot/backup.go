package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

const configArchiveName = "config.json"

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of relaybot data (database + config)",
		Long: `Creates a compressed .tar.gz archive containing the SQLite database (chats,
registrations, stored messages and the usage ledger) and the configuration file.
Stop the gateway first so the database is consistent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("relaybot-backup-%s.tar.gz", ts))
			}

			files := backupFiles(dbPath, cfgPath)
			if len(files) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", dbPath, cfgPath)
			}
			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				var size uint64
				if info, err := os.Stat(f); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.relaybot/backups/relaybot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore relaybot data from a backup archive",
		Long: `Restores the SQLite database and configuration file from a .tar.gz
backup archive created by 'relaybot backup'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath(cfgPath)

			if !force && (exists(dbPath) || exists(cfgPath)) {
				fmt.Printf("WARNING: This will overwrite existing data.\n")
				fmt.Printf("  Database: %s\n", dbPath)
				fmt.Printf("  Config:   %s\n", cfgPath)
				return fmt.Errorf("restore aborted (use --force to proceed)")
			}

			restored, err := extractTarGz(args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restore completed from: %s\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// resolveDBPath reads the database location from the config, falling back
// to the default when the config cannot be loaded.
func resolveDBPath(cfgPath string) string {
	if cfg, err := config.LoadOrDefault(cfgPath); err == nil {
		return cfg.Store.DBPath
	}
	return config.ExpandPath(config.Defaults().Store.DBPath)
}

// backupFiles lists the database, its WAL sidecars and the config, skipping
// whatever does not exist.
func backupFiles(dbPath, cfgPath string) []string {
	var files []string
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm", cfgPath} {
		if exists(p) {
			files = append(files, p)
		}
	}
	return files
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// archiveName is the entry name a file is stored under. The config always
// becomes config.json so restore finds it whatever the source was called.
func archiveName(path string) string {
	if filepath.Ext(path) == ".json" {
		return configArchiveName
	}
	return filepath.Base(path)
}

// restoreTarget maps an archive entry back to its destination.
func restoreTarget(entry, dbPath, cfgPath string) (string, error) {
	name := filepath.Base(entry)
	switch {
	case name == configArchiveName:
		return cfgPath, nil
	case strings.HasSuffix(name, ".db"):
		return dbPath, nil
	case strings.HasSuffix(name, ".db-wal"), strings.HasSuffix(name, ".db-shm"):
		return dbPath + name[strings.LastIndex(name, "-"):], nil
	}
	return "", fmt.Errorf("unexpected archive entry %q", entry)
}

func createTarGz(outputPath string, files []string) (err error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, path := range files {
		if err := appendFile(tw, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
	}
	return errors.Join(tw.Close(), gz.Close())
}

func appendFile(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// extractTarGz restores the database, its sidecars and the config. Any
// other entry is rejected.
func extractTarGz(archivePath, dbPath, cfgPath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return restored, err
		}
		target, err := restoreTarget(hdr.Name, dbPath, cfgPath)
		if err != nil {
			return restored, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return restored, err
		}
		if err := writeFile(target, tr); err != nil {
			return restored, err
		}
		restored = append(restored, target)
	}
}

func writeFile(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}
