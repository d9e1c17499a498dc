package events

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/betbot/gofarm/internal/domain"
)

func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "journal.db")
	rec, err := OpenRecorder(path)
	assert.NoError(t, err)

	return rec, path
}

func TestRecorderSchemaCreated(t *testing.T) {
	t.Parallel()

	rec, path := newTestRecorder(t)
	assert.NoError(t, rec.Close())

	db, err := sql.Open("sqlite", path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('outcomes','transitions','equity_snapshots')`)
	assert.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	assert.True(t, found["outcomes"])
	assert.True(t, found["transitions"])
	assert.True(t, found["equity_snapshots"])
}

func TestRecorderReopenKeepsRows(t *testing.T) {
	t.Parallel()

	rec, path := newTestRecorder(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, rec.RecordOutcome(ctx, &domain.ActionOutcome{
		Account:   "acct-1",
		Category:  domain.CategoryTrade,
		Detail:    "grid:opened_long",
		Success:   true,
		PnlDelta:  0.001,
		Timestamp: ts,
	}))
	assert.NoError(t, rec.RecordTransition(ctx, &domain.StateTransition{
		Account:   "acct-1",
		From:      domain.WorkerStarting,
		To:        domain.WorkerRunning,
		Reason:    "started",
		Timestamp: ts,
	}))
	assert.NoError(t, rec.Close())

	// 重新打开同一文件：migrate 幂等，旧数据仍在
	reopened, err := OpenRecorder(path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	outcomes, err := reopened.RecentOutcomes(ctx, "acct-1", 10)
	assert.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, "grid:opened_long", outcomes[0].Detail)

	transitions, err := reopened.RecentTransitions(ctx, "acct-1", 10)
	assert.NoError(t, err)
	assert.Len(t, transitions, 1)
	assert.Equal(t, domain.WorkerRunning, transitions[0].To)
}

func TestRecorderLimitClamp(t *testing.T) {
	t.Parallel()

	rec, _ := newTestRecorder(t)
	t.Cleanup(func() { _ = rec.Close() })
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		assert.NoError(t, rec.RecordOutcome(ctx, &domain.ActionOutcome{
			Account:   "acct-1",
			Category:  domain.CategoryDataQuery,
			Detail:    "depth",
			Success:   true,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := rec.RecentOutcomes(ctx, "acct-1", 2)
	assert.NoError(t, err)
	assert.Len(t, got, 2)

	// 非法与超界 limit 回落到默认值
	got, err = rec.RecentOutcomes(ctx, "acct-1", -1)
	assert.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = rec.RecentOutcomes(ctx, "acct-1", 5000)
	assert.NoError(t, err)
	assert.Len(t, got, 3)
}
