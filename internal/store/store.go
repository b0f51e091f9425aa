// Package store persists chat metadata, chat registrations and forwarded
// messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/domain"
)

// ErrNotFound is returned when a registration or chat does not exist.
var ErrNotFound = errors.New("not found")

const metadataTimeout = 5 * time.Second

// Store is the SQLite-backed registry. Registrations are served from an
// in-memory snapshot so the per-event gate lookup never touches the database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.RWMutex
	groups map[string]domain.RegisteredGroup
}

// Open opens (creating if needed) the database at dbPath and applies migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.reloadGroups(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the handle for packages sharing the database file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// UpsertChat records that jid sent something at timestamp. The stored time
// only moves forward, and name is only overwritten when non-empty.
func (s *Store) UpsertChat(ctx context.Context, jid, timestamp, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (jid, name, last_message_time) VALUES (?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			last_message_time = MAX(chats.last_message_time, excluded.last_message_time)`,
		jid, name, timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert chat %s: %w", jid, err)
	}
	return nil
}

// RecordChatMetadata adapts UpsertChat to the channel callback shape.
func (s *Store) RecordChatMetadata(jid, timestamp, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()
	return s.UpsertChat(ctx, jid, timestamp, name)
}

// ListChats returns discovered chats, most recently active first.
func (s *Store) ListChats(ctx context.Context, limit int) ([]domain.ChatMetadata, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT jid, name, last_message_time FROM chats ORDER BY last_message_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []domain.ChatMetadata
	for rows.Next() {
		var c domain.ChatMetadata
		if err := rows.Scan(&c.ChatJID, &c.Name, &c.LastMessageTime); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// RegisteredGroups returns a copy of the registration snapshot. It satisfies
// domain.RegistrationLookup.
func (s *Store) RegisteredGroups() map[string]domain.RegisteredGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.RegisteredGroup, len(s.groups))
	for jid, g := range s.groups {
		out[jid] = g
	}
	return out
}

// ValidateGroup checks a registration before it is stored.
func ValidateGroup(jid string, g domain.RegisteredGroup) error {
	var errs []string
	if prefix, rest, ok := strings.Cut(jid, ":"); !ok || prefix == "" || rest == "" {
		errs = append(errs, fmt.Sprintf("jid %q must look like <platform>:<id>", jid))
	}
	if g.Folder == "" {
		errs = append(errs, "folder is required")
	} else if strings.ContainsAny(g.Folder, `/\`) || g.Folder == "." || g.Folder == ".." {
		errs = append(errs, fmt.Sprintf("folder %q must be a single path segment", g.Folder))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid registration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AddGroup registers or updates jid and refreshes the snapshot.
func (s *Store) AddGroup(ctx context.Context, jid string, g domain.RegisteredGroup) error {
	if err := ValidateGroup(jid, g); err != nil {
		return err
	}
	if g.AddedAt.IsZero() {
		g.AddedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registered_groups (jid, name, folder, trigger_pattern, added_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET name = excluded.name, folder = excluded.folder, trigger_pattern = excluded.trigger_pattern`,
		jid, g.Name, g.Folder, g.Trigger, g.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", jid, err)
	}
	s.logger.Info("chat registered", "chat_jid", jid, "folder", g.Folder)
	return s.reloadGroups(ctx)
}

// RemoveGroup unregisters jid. It returns ErrNotFound when jid was not registered.
func (s *Store) RemoveGroup(ctx context.Context, jid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM registered_groups WHERE jid = ?`, jid)
	if err != nil {
		return fmt.Errorf("unregister %s: %w", jid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("registration %s: %w", jid, ErrNotFound)
	}
	s.logger.Info("chat unregistered", "chat_jid", jid)
	return s.reloadGroups(ctx)
}

// ImportGroups registers every entry in groups inside one transaction.
func (s *Store) ImportGroups(ctx context.Context, groups map[string]domain.RegisteredGroup) (int, error) {
	for jid, g := range groups {
		if err := ValidateGroup(jid, g); err != nil {
			return 0, fmt.Errorf("%s: %w", jid, err)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for jid, g := range groups {
		if g.AddedAt.IsZero() {
			g.AddedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO registered_groups (jid, name, folder, trigger_pattern, added_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(jid) DO UPDATE SET name = excluded.name, folder = excluded.folder, trigger_pattern = excluded.trigger_pattern`,
			jid, g.Name, g.Folder, g.Trigger, g.AddedAt,
		); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("import %s: %w", jid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(groups), s.reloadGroups(ctx)
}

// Reload re-reads registrations, picking up changes written by another
// process such as the groups CLI.
func (s *Store) Reload(ctx context.Context) error { return s.reloadGroups(ctx) }

func (s *Store) reloadGroups(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT jid, name, folder, trigger_pattern, added_at FROM registered_groups`)
	if err != nil {
		return fmt.Errorf("load registrations: %w", err)
	}
	defer rows.Close()

	groups := make(map[string]domain.RegisteredGroup)
	for rows.Next() {
		var (
			jid     string
			g       domain.RegisteredGroup
			addedAt sql.NullTime
		)
		if err := rows.Scan(&jid, &g.Name, &g.Folder, &g.Trigger, &addedAt); err != nil {
			return fmt.Errorf("scan registration: %w", err)
		}
		g.AddedAt = addedAt.Time
		groups[jid] = g
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
	return nil
}

// StoreMessage persists a forwarded message. Redelivery of the same
// (id, chat) pair is ignored.
func (s *Store) StoreMessage(ctx context.Context, msg domain.InboundMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, chat_jid, sender, sender_name, content, timestamp, is_from_me)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatJID, msg.Sender, msg.SenderName, msg.Content, msg.Timestamp, msg.IsFromMe,
	)
	if err != nil {
		return fmt.Errorf("store message %s: %w", msg.ID, err)
	}
	return nil
}

// RecentMessages returns the last limit messages for jid, oldest first.
func (s *Store) RecentMessages(ctx context.Context, jid string, limit int) ([]domain.InboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_jid, sender, sender_name, content, timestamp, is_from_me
		FROM messages WHERE chat_jid = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`, jid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.InboundMessage
	for rows.Next() {
		var m domain.InboundMessage
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.Sender, &m.SenderName, &m.Content, &m.Timestamp, &m.IsFromMe); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
