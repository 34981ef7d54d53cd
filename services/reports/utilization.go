// Package reports builds the agent utilization report.
package reports

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"slsdispatch/services/fleet"
)

// Range selects the days covered by a report.
type Range string

const (
	Daily   Range = "daily"
	Weekly  Range = "weekly"
	Monthly Range = "monthly"
)

// Header is the CSV column order.
var Header = []string{"day", "agent_id", "active_minutes", "heartbeats"}

// ParseRange accepts daily, weekly or monthly; empty means daily.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return Daily, nil
	case Daily, Weekly, Monthly:
		return r, nil
	default:
		return "", fmt.Errorf("%w: range must be daily, weekly or monthly", fleet.ErrValidation)
	}
}

// Days returns the calendar days covered by r, as midnights in today's
// location. Weekly covers Monday through Sunday of the current week, monthly
// the whole current month.
func Days(r Range, today time.Time) []time.Time {
	loc := today.Location()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	switch r {
	case Weekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		out := make([]time.Time, 7)
		for i := range out {
			out[i] = start.AddDate(0, 0, i)
		}
		return out
	case Monthly:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, loc)
		var out []time.Time
		for d := start; d.Month() == start.Month(); d = d.AddDate(0, 0, 1) {
			out = append(out, d)
		}
		return out
	default:
		return []time.Time{day}
	}
}

// AgentCount is one agent's heartbeat tally within a window.
type AgentCount struct {
	AgentID     string `db:"agent_id"`
	ActiveTicks int    `db:"active_ticks"`
	Heartbeats  int    `db:"heartbeats"`
}

// Source tallies heartbeats recorded in [from, to).
type Source interface {
	HeartbeatCounts(ctx context.Context, from, to time.Time) ([]AgentCount, error)
}

// Line is one CSV row.
type Line struct {
	Day           string
	AgentID       string
	ActiveMinutes float64
	Heartbeats    int
}

// Builder turns heartbeat tallies into report lines.
type Builder struct {
	source   Source
	interval time.Duration
}

// NewBuilder returns a Builder. interval is the agent reporting cadence; each
// active heartbeat accounts for that much active time.
func NewBuilder(source Source, interval time.Duration) (*Builder, error) {
	if source == nil {
		return nil, errors.New("report source is required")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Builder{source: source, interval: interval}, nil
}

// Build returns the lines for r, ordered by day then agent id.
func (b *Builder) Build(ctx context.Context, r Range, today time.Time) ([]Line, error) {
	perTick := b.interval.Minutes()
	var lines []Line
	for _, day := range Days(r, today) {
		counts, err := b.source.HeartbeatCounts(ctx, day, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, fmt.Errorf("count heartbeats for %s: %w", day.Format(time.DateOnly), err)
		}
		sort.Slice(counts, func(i, j int) bool { return counts[i].AgentID < counts[j].AgentID })
		for _, c := range counts {
			lines = append(lines, Line{
				Day:           day.Format(time.DateOnly),
				AgentID:       c.AgentID,
				ActiveMinutes: float64(c.ActiveTicks) * perTick,
				Heartbeats:    c.Heartbeats,
			})
		}
	}
	return lines, nil
}

// WriteCSV writes the header and lines.
func WriteCSV(w io.Writer, lines []Line) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, l := range lines {
		if err := cw.Write([]string{l.Day, l.AgentID, FormatMinutes(l.ActiveMinutes), strconv.Itoa(l.Heartbeats)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatMinutes always keeps a fractional part: 3 → "3.0", 2.5 → "2.5".
func FormatMinutes(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Total is one agent's sum over a report.
type Total struct {
	AgentID       string
	ActiveMinutes float64
	Heartbeats    int
}

// Totals sums lines per agent, ordered by active minutes descending.
func Totals(lines []Line) []Total {
	byAgent := map[string]*Total{}
	for _, l := range lines {
		t, ok := byAgent[l.AgentID]
		if !ok {
			t = &Total{AgentID: l.AgentID}
			byAgent[l.AgentID] = t
		}
		t.ActiveMinutes += l.ActiveMinutes
		t.Heartbeats += l.Heartbeats
	}
	out := make([]Total, 0, len(byAgent))
	for _, t := range byAgent {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActiveMinutes != out[j].ActiveMinutes {
			return out[i].ActiveMinutes > out[j].ActiveMinutes
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}
