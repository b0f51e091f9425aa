package usage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatReport renders a Summary as chat-friendly markdown.
func FormatReport(s *Summary) string {
	var b strings.Builder
	b.WriteString("*Cost Summary*\n\n")
	fmt.Fprintf(&b, "Total Cost: $%.4f\n", s.TotalCost)
	fmt.Fprintf(&b, "Total Requests: %d\n", s.TotalRequests)
	fmt.Fprintf(&b, "Period: %s to %s\n\n", orDash(s.PeriodStart), orDash(s.PeriodEnd))

	b.WriteString("*Token Usage:*\n")
	fmt.Fprintf(&b, "• Input: %s tokens\n", humanize.Comma(s.TotalInputTokens))
	fmt.Fprintf(&b, "• Output: %s tokens\n", humanize.Comma(s.TotalOutputTokens))
	fmt.Fprintf(&b, "• Cache Write: %s tokens\n", humanize.Comma(s.TotalCacheWriteTokens))
	fmt.Fprintf(&b, "• Cache Read: %s tokens\n", humanize.Comma(s.TotalCacheReadTokens))

	writeBuckets(&b, "*By Group:*", s.ByGroup)
	writeBuckets(&b, "*By Model:*", s.ByModel)
	return b.String()
}

func writeBuckets(b *strings.Builder, title string, buckets map[string]Bucket) {
	if len(buckets) == 0 {
		return
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	// Most expensive first.
	sort.Slice(keys, func(i, j int) bool {
		if buckets[keys[i]].Cost != buckets[keys[j]].Cost {
			return buckets[keys[i]].Cost > buckets[keys[j]].Cost
		}
		return keys[i] < keys[j]
	})

	fmt.Fprintf(b, "\n%s\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "• %s: $%.4f (%d requests)\n", k, buckets[k].Cost, buckets[k].Requests)
	}
}

// FormatDaily renders per-day totals, newest first.
func FormatDaily(days []DailyCost) string {
	if len(days) == 0 {
		return "No usage recorded.\n"
	}
	var b strings.Builder
	var total float64
	for _, d := range days {
		fmt.Fprintf(&b, "%s  $%.4f  (%d requests)\n", d.Date, d.Cost, d.Requests)
		total += d.Cost
	}
	fmt.Fprintf(&b, "Total: $%.4f over %d days\n", total, len(days))
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
