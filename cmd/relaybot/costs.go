package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/domain"
	"relaybot/internal/usage"
)

const dateLayout = "2006-01-02"

func costsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Inspect and record API usage costs",
	}

	var since, until, folder string
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Total cost with per-group and per-model breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()

			f := usage.Filter{GroupFolder: folder}
			if f.Start, err = parseDate(since, false); err != nil {
				return err
			}
			if f.End, err = parseDate(until, true); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s, err := newLedger(st).Summary(ctx, f)
			if err != nil {
				return err
			}
			fmt.Print(usage.FormatReport(s))
			return nil
		},
	}
	summary.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, inclusive)")
	summary.Flags().StringVar(&until, "until", "", "end date (YYYY-MM-DD, inclusive)")
	summary.Flags().StringVar(&folder, "folder", "", "only this group folder")
	cmd.AddCommand(summary)

	var days int
	daily := &cobra.Command{
		Use:   "daily",
		Short: "Cost per day",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			rows, err := newLedger(st).Daily(ctx, days)
			if err != nil {
				return err
			}
			fmt.Print(usage.FormatDaily(rows))
			return nil
		},
	}
	daily.Flags().IntVar(&days, "days", 30, "number of days to include")
	cmd.AddCommand(daily)

	var limit int
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Most recent ledger rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			recs, err := newLedger(st).Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}
			for _, r := range recs {
				fmt.Printf("%s  %-16s %-26s in=%-7d out=%-7d $%.6f\n",
					r.Timestamp, r.GroupFolder, r.Model, r.InputTokens, r.OutputTokens, r.Total)
			}
			return nil
		},
	}
	logCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	cmd.AddCommand(logCmd)

	var ev domain.UsageEvent
	record := &cobra.Command{
		Use:   "record",
		Short: "Append a usage row (for the assistant side)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ev.Model == "" || ev.GroupFolder == "" {
				return fmt.Errorf("--model and --folder are required")
			}
			_, st, done, err := openStore()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			rec, err := newLedger(st).Record(ctx, ev)
			if err != nil {
				return err
			}
			fmt.Printf("Recorded %s: $%.6f\n", rec.ID, rec.Total)
			return nil
		},
	}
	record.Flags().StringVar(&ev.Model, "model", "", "model name used for pricing")
	record.Flags().StringVar(&ev.GroupFolder, "folder", "", "group folder")
	record.Flags().StringVar(&ev.ChatJID, "jid", "", "chat JID")
	record.Flags().StringVar(&ev.MessageID, "message-id", "", "message the usage belongs to")
	record.Flags().IntVar(&ev.InputTokens, "input", 0, "input tokens")
	record.Flags().IntVar(&ev.OutputTokens, "output", 0, "output tokens")
	record.Flags().IntVar(&ev.CacheWriteTokens, "cache-write", 0, "cache write tokens")
	record.Flags().IntVar(&ev.CacheReadTokens, "cache-read", 0, "cache read tokens")
	cmd.AddCommand(record)

	return cmd
}

// parseDate parses a local YYYY-MM-DD. endOfDay moves the result to the
// last millisecond of that day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}
