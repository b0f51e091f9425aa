// Package usage is the token and audio usage ledger with cost reporting.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// Record is one stored ledger row.
type Record struct {
	ID        string
	Timestamp string
	domain.UsageEvent
	Costs
}

// Ledger writes and aggregates the token_usage table. The schema is owned by
// the store migrations.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.UsageRecorder = (*Ledger)(nil)

func NewLedger(db *sql.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger, now: time.Now}
}

// RecordUsage prices ev and appends it to the ledger.
func (l *Ledger) RecordUsage(ctx context.Context, ev domain.UsageEvent) error {
	_, err := l.Record(ctx, ev)
	return err
}

// Record prices ev, stores it and returns the stored row.
func (l *Ledger) Record(ctx context.Context, ev domain.UsageEvent) (*Record, error) {
	rec := &Record{
		ID:         uuid.NewString(),
		Timestamp:  l.now().UTC().Format(timeLayout),
		UsageEvent: ev,
		Costs:      Cost(ev.Model, ev.InputTokens, ev.OutputTokens, ev.CacheWriteTokens, ev.CacheReadTokens),
	}
	var messageID any
	if ev.MessageID != "" {
		messageID = ev.MessageID
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO token_usage (
			id, timestamp, group_folder, chat_jid, model,
			input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
			input_cost, output_cost, cache_write_cost, cache_read_cost, total_cost,
			message_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp, ev.GroupFolder, ev.ChatJID, ev.Model,
		ev.InputTokens, ev.OutputTokens, ev.CacheWriteTokens, ev.CacheReadTokens,
		rec.Input, rec.Output, rec.CacheWrite, rec.CacheRead, rec.Total,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	l.logger.Debug("usage recorded", "model", ev.Model, "group", ev.GroupFolder, "cost_usd", rec.Total)
	return rec, nil
}

// Bucket is a cost and request count for one group or model.
type Bucket struct {
	Cost     float64
	Requests int
}

// Summary aggregates the ledger over a period.
type Summary struct {
	TotalCost             float64
	TotalInputTokens      int64
	TotalOutputTokens     int64
	TotalCacheWriteTokens int64
	TotalCacheReadTokens  int64
	TotalRequests         int
	PeriodStart           string
	PeriodEnd             string
	ByGroup               map[string]Bucket
	ByModel               map[string]Bucket
}

// Filter narrows a Summary. Zero values mean unbounded.
type Filter struct {
	Start       time.Time
	End         time.Time
	GroupFolder string
}

func (f Filter) where() (string, []any) {
	clause := " WHERE 1=1"
	var args []any
	if !f.Start.IsZero() {
		clause += " AND timestamp >= ?"
		args = append(args, f.Start.UTC().Format(timeLayout))
	}
	if !f.End.IsZero() {
		clause += " AND timestamp <= ?"
		args = append(args, f.End.UTC().Format(timeLayout))
	}
	if f.GroupFolder != "" {
		clause += " AND group_folder = ?"
		args = append(args, f.GroupFolder)
	}
	return clause, args
}

// Summary totals the ledger rows matching f, with per-group and per-model
// breakdowns over the same rows.
func (l *Ledger) Summary(ctx context.Context, f Filter) (*Summary, error) {
	where, args := f.where()
	s := &Summary{ByGroup: map[string]Bucket{}, ByModel: map[string]Bucket{}}

	var start, end sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total_cost), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_write_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0),
			COUNT(*),
			MIN(timestamp),
			MAX(timestamp)
		FROM token_usage`+where, args...,
	).Scan(&s.TotalCost, &s.TotalInputTokens, &s.TotalOutputTokens,
		&s.TotalCacheWriteTokens, &s.TotalCacheReadTokens, &s.TotalRequests, &start, &end)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	s.PeriodStart, s.PeriodEnd = start.String, end.String

	if s.ByGroup, err = l.breakdown(ctx, "group_folder", where, args); err != nil {
		return nil, err
	}
	if s.ByModel, err = l.breakdown(ctx, "model", where, args); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Ledger) breakdown(ctx context.Context, column, where string, args []any) (map[string]Bucket, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+column+`, SUM(total_cost), COUNT(*) FROM token_usage`+where+` GROUP BY `+column, args...)
	if err != nil {
		return nil, fmt.Errorf("usage by %s: %w", column, err)
	}
	defer rows.Close()

	out := map[string]Bucket{}
	for rows.Next() {
		var key string
		var b Bucket
		if err := rows.Scan(&key, &b.Cost, &b.Requests); err != nil {
			return nil, err
		}
		out[key] = b
	}
	return out, rows.Err()
}

// DailyCost is one day of ledger totals.
type DailyCost struct {
	Date     string
	Cost     float64
	Requests int
}

// Daily returns per-day totals for the last days days, newest first.
func (l *Ledger) Daily(ctx context.Context, days int) ([]DailyCost, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := l.now().UTC().AddDate(0, 0, -days).Format(timeLayout)
	rows, err := l.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 10) AS day, SUM(total_cost), COUNT(*)
		FROM token_usage
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("daily usage: %w", err)
	}
	defer rows.Close()

	var out []DailyCost
	for rows.Next() {
		var d DailyCost
		if err := rows.Scan(&d.Date, &d.Cost, &d.Requests); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TodayUSD is the total cost since local midnight.
func (l *Ledger) TodayUSD(ctx context.Context) (float64, error) {
	now := l.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var total float64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost), 0) FROM token_usage WHERE timestamp >= ?`,
		midnight.UTC().Format(timeLayout),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("today usage: %w", err)
	}
	return total, nil
}

// Recent returns the newest limit ledger rows.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, group_folder, chat_jid, model,
			input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
			input_cost, output_cost, cache_write_cost, cache_read_cost, total_cost,
			COALESCE(message_id, '')
		FROM token_usage ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.GroupFolder, &r.ChatJID, &r.Model,
			&r.InputTokens, &r.OutputTokens, &r.CacheWriteTokens, &r.CacheReadTokens,
			&r.Input, &r.Output, &r.CacheWrite, &r.CacheRead, &r.Total, &r.MessageID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
