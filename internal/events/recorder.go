package events

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/betbot/gofarm/internal/domain"
)

// Recorder SQLite 落地端
// 工作器只追加写入，控制面进程通过同一文件做重建查询
type Recorder struct {
	db *sql.DB
}

// OpenRecorder 打开（必要时创建）事件库
func OpenRecorder(path string) (*Recorder, error) {
	if path == "" {
		return nil, errors.New("事件库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "创建事件库目录失败")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开事件库失败")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	r := &Recorder{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS outcomes (
  id TEXT PRIMARY KEY,
  account TEXT NOT NULL,
  category TEXT NOT NULL,
  detail TEXT NOT NULL,
  success INTEGER NOT NULL,
  pnl_delta REAL NOT NULL,
  elapsed_ms INTEGER NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_account_ts ON outcomes(account, ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS transitions (
  id TEXT PRIMARY KEY,
  account TEXT NOT NULL,
  from_state TEXT NOT NULL,
  to_state TEXT NOT NULL,
  reason TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_account_ts ON transitions(account, ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS equity_snapshots (
  id TEXT PRIMARY KEY,
  account TEXT NOT NULL,
  net_equity REAL NOT NULL,
  quote_balance REAL NOT NULL,
  open_positions INTEGER NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_account_ts ON equity_snapshots(account, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "事件库建表失败")
		}
	}
	return nil
}

func (r *Recorder) RecordOutcome(ctx context.Context, o *domain.ActionOutcome) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO outcomes (id, account, category, detail, success, pnl_delta, elapsed_ms, ts)
VALUES (?,?,?,?,?,?,?,?)
`, uuid.NewString(), o.Account, string(o.Category), o.Detail, boolToInt(o.Success),
		o.PnlDelta, o.Elapsed.Milliseconds(), o.Timestamp.UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "写入操作记录失败")
}

func (r *Recorder) RecordTransition(ctx context.Context, t *domain.StateTransition) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO transitions (id, account, from_state, to_state, reason, ts)
VALUES (?,?,?,?,?,?)
`, uuid.NewString(), t.Account, string(t.From), string(t.To), t.Reason,
		t.Timestamp.UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "写入状态变更失败")
}

func (r *Recorder) RecordEquity(ctx context.Context, snap *EquitySnapshot) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO equity_snapshots (id, account, net_equity, quote_balance, open_positions, ts)
VALUES (?,?,?,?,?,?)
`, uuid.NewString(), snap.Account, snap.NetEquity, snap.QuoteBalance, snap.OpenPositions,
		snap.Timestamp.UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "写入权益快照失败")
}

// RecentOutcomes 按时间倒序返回某账户最近的操作记录
func (r *Recorder) RecentOutcomes(ctx context.Context, account string, limit int) ([]domain.ActionOutcome, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT account, category, detail, success, pnl_delta, elapsed_ms, ts
FROM outcomes
WHERE account=?
ORDER BY ts DESC
LIMIT ?
`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ActionOutcome
	for rows.Next() {
		var (
			o         domain.ActionOutcome
			category  string
			success   int
			elapsedMS int64
			ts        string
		)
		if err := rows.Scan(&o.Account, &category, &o.Detail, &success, &o.PnlDelta, &elapsedMS, &ts); err != nil {
			return nil, err
		}
		o.Category = domain.ActionCategory(category)
		o.Success = success != 0
		o.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		o.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentTransitions 按时间倒序返回某账户最近的状态变更
func (r *Recorder) RecentTransitions(ctx context.Context, account string, limit int) ([]domain.StateTransition, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT account, from_state, to_state, reason, ts
FROM transitions
WHERE account=?
ORDER BY ts DESC
LIMIT ?
`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StateTransition
	for rows.Next() {
		var (
			t        domain.StateTransition
			from, to string
			ts       string
		)
		if err := rows.Scan(&t.Account, &from, &to, &t.Reason, &ts); err != nil {
			return nil, err
		}
		t.From = domain.WorkerState(from)
		t.To = domain.WorkerState(to)
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentEquity 按时间倒序返回某账户最近的权益快照
func (r *Recorder) RecentEquity(ctx context.Context, account string, limit int) ([]EquitySnapshot, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT account, net_equity, quote_balance, open_positions, ts
FROM equity_snapshots
WHERE account=?
ORDER BY ts DESC
LIMIT ?
`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var (
			snap EquitySnapshot
			ts   string
		)
		if err := rows.Scan(&snap.Account, &snap.NetEquity, &snap.QuoteBalance, &snap.OpenPositions, &ts); err != nil {
			return nil, err
		}
		snap.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ActionCounts 按类别统计某账户的操作次数
func (r *Recorder) ActionCounts(ctx context.Context, account string) (map[domain.ActionCategory]int, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT category, COUNT(*)
FROM outcomes
WHERE account=?
GROUP BY category
`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ActionCategory]int)
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts[domain.ActionCategory(category)] = n
	}
	return counts, rows.Err()
}

// Accounts 返回事件库里出现过的账户名
func (r *Recorder) Accounts(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT account FROM outcomes
UNION
SELECT DISTINCT account FROM transitions
ORDER BY account
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
