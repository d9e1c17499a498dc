package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/gofarm/internal/domain"
)

type fakeSink struct {
	outcomes    []*domain.ActionOutcome
	transitions []*domain.StateTransition
	equities    []*EquitySnapshot
	err         error
	closed      bool
}

func (f *fakeSink) RecordOutcome(ctx context.Context, o *domain.ActionOutcome) error {
	f.outcomes = append(f.outcomes, o)
	return f.err
}

func (f *fakeSink) RecordTransition(ctx context.Context, t *domain.StateTransition) error {
	f.transitions = append(f.transitions, t)
	return f.err
}

func (f *fakeSink) RecordEquity(ctx context.Context, snap *EquitySnapshot) error {
	f.equities = append(f.equities, snap)
	return f.err
}

func (f *fakeSink) Close() error {
	f.closed = true
	return f.err
}

func TestJournal_FanOut(t *testing.T) {
	good := &fakeSink{}
	bad := &fakeSink{err: errors.New("disk full")}
	j := NewJournal(good, bad)
	ctx := context.Background()

	j.Outcome(ctx, &domain.ActionOutcome{Account: "acct-1", Category: domain.CategoryTrade})
	j.Transition(ctx, &domain.StateTransition{Account: "acct-1", From: domain.WorkerRunning, To: domain.WorkerCooling})
	j.Equity(ctx, &EquitySnapshot{Account: "acct-1", NetEquity: 1000})

	// 落地端失败不影响其余落地端
	for _, s := range []*fakeSink{good, bad} {
		if len(s.outcomes) != 1 || len(s.transitions) != 1 || len(s.equities) != 1 {
			t.Fatalf("每个落地端都应收到全部记录: %+v", s)
		}
	}

	if err := j.Close(); err == nil {
		t.Error("Close 应返回落地端错误")
	}
	if !good.closed || !bad.closed {
		t.Error("Close 应关闭全部落地端")
	}
}

func TestJournal_NoSinks(t *testing.T) {
	j := NewJournal()
	j.Outcome(context.Background(), &domain.ActionOutcome{Account: "acct-1"})
	if err := j.Close(); err != nil {
		t.Fatalf("空事件流 Close: %v", err)
	}
}

func TestRecorder_RoundTrip(t *testing.T) {
	rec, err := OpenRecorder(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenRecorder: %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	outcomes := []*domain.ActionOutcome{
		{Account: "acct-1", Category: domain.CategoryTrade, Detail: "basic:opened_long", Success: true, PnlDelta: 0.004, Elapsed: 120 * time.Millisecond, Timestamp: base},
		{Account: "acct-1", Category: domain.CategoryDataQuery, Detail: "ticker", Success: false, Elapsed: 30 * time.Millisecond, Timestamp: base.Add(time.Minute)},
		{Account: "acct-2", Category: domain.CategoryLending, Detail: "collateral_info", Success: true, Timestamp: base},
	}
	for _, o := range outcomes {
		if err := rec.RecordOutcome(ctx, o); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	got, err := rec.RecentOutcomes(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("acct-1 应有两条记录: %d", len(got))
	}
	if got[0].Detail != "ticker" || got[1].Detail != "basic:opened_long" {
		t.Errorf("应按时间倒序: %s, %s", got[0].Detail, got[1].Detail)
	}
	if got[0].Success || !got[1].Success {
		t.Error("成功标记没有还原")
	}
	if got[1].PnlDelta != 0.004 || got[1].Elapsed != 120*time.Millisecond {
		t.Errorf("数值字段没有还原: %+v", got[1])
	}
	if !got[1].Timestamp.Equal(base) {
		t.Errorf("时间戳没有还原: %v", got[1].Timestamp)
	}

	counts, err := rec.ActionCounts(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ActionCounts: %v", err)
	}
	if counts[domain.CategoryTrade] != 1 || counts[domain.CategoryDataQuery] != 1 {
		t.Errorf("类别统计不符: %+v", counts)
	}

	tr := &domain.StateTransition{
		Account: "acct-1", From: domain.WorkerRunning, To: domain.WorkerCooling,
		Reason: "daily_loss_limit", Timestamp: base,
	}
	if err := rec.RecordTransition(ctx, tr); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	trs, err := rec.RecentTransitions(ctx, "acct-1", 10)
	if err != nil || len(trs) != 1 {
		t.Fatalf("RecentTransitions: %v, %d", err, len(trs))
	}
	if trs[0].From != domain.WorkerRunning || trs[0].To != domain.WorkerCooling || trs[0].Reason != "daily_loss_limit" {
		t.Errorf("状态变更没有还原: %+v", trs[0])
	}

	snap := &EquitySnapshot{Account: "acct-1", NetEquity: 1234.5, QuoteBalance: 800, OpenPositions: 2, Timestamp: base}
	if err := rec.RecordEquity(ctx, snap); err != nil {
		t.Fatalf("RecordEquity: %v", err)
	}
	eqs, err := rec.RecentEquity(ctx, "acct-1", 10)
	if err != nil || len(eqs) != 1 {
		t.Fatalf("RecentEquity: %v, %d", err, len(eqs))
	}
	if eqs[0].NetEquity != 1234.5 || eqs[0].OpenPositions != 2 {
		t.Errorf("权益快照没有还原: %+v", eqs[0])
	}

	accounts, err := rec.Accounts(ctx)
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0] != "acct-1" || accounts[1] != "acct-2" {
		t.Errorf("账户列表不符: %v", accounts)
	}
}

func TestOpenRecorder_EmptyPath(t *testing.T) {
	if _, err := OpenRecorder(""); err == nil {
		t.Fatal("空路径应报错")
	}
}
