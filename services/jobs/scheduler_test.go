package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slsdispatch/services/fleet"
	"slsdispatch/services/notify"
	"slsdispatch/services/reports"
)

type countingScanner struct {
	ticks    atomic.Int32
	interval time.Duration
}

func (c *countingScanner) Tick(context.Context) []fleet.Alert {
	c.ticks.Add(1)
	return nil
}

func (c *countingScanner) Interval() time.Duration { return c.interval }

type staticBuilder struct {
	lines []reports.Line
	err   error
	got   time.Time
}

func (b *staticBuilder) Build(_ context.Context, _ reports.Range, today time.Time) ([]reports.Line, error) {
	b.got = today
	return b.lines, b.err
}

type captureSender struct {
	reps []notify.Report
}

func (c *captureSender) SendReport(_ context.Context, _ string, rep notify.Report) fleet.Delivery {
	c.reps = append(c.reps, rep)
	return fleet.Delivered()
}

type memArchive struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (m *memArchive) PutObject(_ context.Context, bucket, key, contentType string, body []byte) error {
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, bucket+"/"+key)
	m.bodies = append(m.bodies, body)
	return nil
}

var fixedNow = time.Date(2026, 3, 4, 18, 30, 0, 0, time.UTC)

func TestRunDailyReport(t *testing.T) {
	builder := &staticBuilder{lines: []reports.Line{
		{Day: "2026-03-04", AgentID: "a1", ActiveMinutes: 2.5, Heartbeats: 6},
	}}
	sender := &captureSender{}
	archive := &memArchive{}

	s, err := New(Deps{
		Scanner:  &countingScanner{interval: time.Minute},
		Reports:  builder,
		Sender:   sender,
		Archiver: archive,
	}, Config{ReportCron: DefaultReportCron, Location: time.UTC, ArchiveBucket: "sls", ArchivePrefix: "ops"}, zerolog.Nop())
	require.NoError(t, err)
	s.SetClock(func() time.Time { return fixedNow })

	require.NoError(t, s.RunDailyReport(context.Background()))

	assert.Equal(t, fixedNow, builder.got)
	require.Len(t, archive.keys, 1)
	assert.Equal(t, "sls/ops/reports/utilization-2026-03-04.csv", archive.keys[0])
	assert.Equal(t, "day,agent_id,active_minutes,heartbeats\n2026-03-04,a1,2.5,6\n", string(archive.bodies[0]))

	require.Len(t, sender.reps, 1)
	rep := sender.reps[0]
	assert.Equal(t, reports.Daily, rep.Range)
	assert.Equal(t, "2026-03-04", rep.From)
	require.Len(t, rep.Totals, 1)
	assert.Equal(t, 2.5, rep.Totals[0].ActiveMinutes)

	require.NoError(t, s.Shutdown())
}

func TestRunDailyReportArchiveFailureStillSends(t *testing.T) {
	sender := &captureSender{}
	s, err := New(Deps{
		Scanner:  &countingScanner{interval: time.Minute},
		Reports:  &staticBuilder{},
		Sender:   sender,
		Archiver: &memArchive{err: errors.New("access denied")},
	}, Config{ReportCron: DefaultReportCron, Location: time.UTC, ArchiveBucket: "sls"}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Shutdown()

	require.NoError(t, s.RunDailyReport(context.Background()))
	assert.Len(t, sender.reps, 1)
}

func TestRunDailyReportBuildFailure(t *testing.T) {
	s, err := New(Deps{
		Scanner: &countingScanner{interval: time.Minute},
		Reports: &staticBuilder{err: errors.New("db down")},
	}, Config{ReportCron: DefaultReportCron}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Shutdown()

	assert.ErrorContains(t, s.RunDailyReport(context.Background()), "db down")
}

func TestNewValidation(t *testing.T) {
	_, err := New(Deps{}, Config{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Deps{Scanner: &countingScanner{interval: time.Minute}, Reports: &staticBuilder{}},
		Config{ReportCron: "every day"}, zerolog.Nop())
	assert.ErrorIs(t, err, fleet.ErrValidation)

	_, err = New(Deps{Scanner: &countingScanner{interval: time.Minute}}, Config{ReportCron: DefaultReportCron}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNextReport(t *testing.T) {
	s, err := New(Deps{Scanner: &countingScanner{interval: time.Minute}, Reports: &staticBuilder{}},
		Config{ReportCron: DefaultReportCron, Location: time.UTC}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Shutdown()
	s.SetClock(func() time.Time { return fixedNow })

	next, ok := s.NextReport()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 4, 19, 0, 0, 0, time.UTC), next)

	noReport, err := New(Deps{Scanner: &countingScanner{interval: time.Minute}}, Config{}, zerolog.Nop())
	require.NoError(t, err)
	defer noReport.Shutdown()
	_, ok = noReport.NextReport()
	assert.False(t, ok)
}

func TestScanJobTicks(t *testing.T) {
	scanner := &countingScanner{interval: 20 * time.Millisecond}
	s, err := New(Deps{Scanner: scanner}, Config{}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown()

	assert.Eventually(t, func() bool { return scanner.ticks.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}
