package store

import (
	"context"
	"crypto-signal-bot/internal/model"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id             TEXT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	price          TEXT NOT NULL,
	fee            TEXT NOT NULL,
	realized_pnl   TEXT NOT NULL,
	trigger_reason TEXT NOT NULL,
	signal         TEXT NOT NULL,
	executed_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol, executed_at);

CREATE TABLE IF NOT EXISTS decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	decision   TEXT NOT NULL,
	price      TEXT NOT NULL,
	action     TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error      TEXT NOT NULL,
	decided_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_symbol_time ON decisions(symbol, decided_at);
`

// SQLiteStore 成交与决策台账。金额以 decimal 文本存储，避免浮点误差累积。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开 (或创建) dbPath 处的数据库并建表
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTrade 追加一条成交；重复 ID 忽略 (同一订单的重放)
func (s *SQLiteStore) SaveTrade(ctx context.Context, t model.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(id, symbol, side, quantity, price, fee, realized_pnl, trigger_reason, signal, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Side),
		decimal.NewFromFloat(t.Quantity).String(),
		decimal.NewFromFloat(t.Price).String(),
		decimal.NewFromFloat(t.Fee).String(),
		decimal.NewFromFloat(t.RealizedPnL).String(),
		t.TriggerReason, string(t.Signal), t.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

// SaveDecision 追加一条周期决策
func (s *SQLiteStore) SaveDecision(ctx context.Context, r model.CycleResult) error {
	var action, reason, errText string
	if r.Execution != nil {
		action, reason = r.Execution.Action, r.Execution.Reason
	}
	if r.Err != nil {
		errText = r.Err.Error()
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (cycle_id, symbol, decision, price, action, reason, error, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.Symbol, string(r.Decision), decimal.NewFromFloat(r.Price).String(),
		action, reason, errText, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("save decision %s/%s: %w", r.CycleID, r.Symbol, err)
	}
	return nil
}

// ListTrades 按时间升序返回最近 limit 条成交；symbol 为空表示全部
func (s *SQLiteStore) ListTrades(ctx context.Context, symbol string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, price, fee, realized_pnl, trigger_reason, signal, executed_at
		FROM (
			SELECT rowid AS seq, * FROM trades
			WHERE (? = '' OR symbol = ?)
			ORDER BY executed_at DESC, seq DESC
			LIMIT ?
		) ORDER BY executed_at ASC, seq ASC`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var (
			t                    model.TradeRecord
			side, signal         string
			qty, price, fee, pnl string
			executedAt           int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &qty, &price, &fee, &pnl, &t.TriggerReason, &signal, &executedAt); err != nil {
			return nil, err
		}
		t.Side, t.Signal = model.Side(side), model.Signal(signal)
		if t.Quantity, err = parseDecimal(qty); err != nil {
			return nil, err
		}
		if t.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		if t.Fee, err = parseDecimal(fee); err != nil {
			return nil, err
		}
		if t.RealizedPnL, err = parseDecimal(pnl); err != nil {
			return nil, err
		}
		t.Timestamp = time.UnixMilli(executedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RealizedPnL 汇总已实现盈亏 (decimal 精确求和)
func (s *SQLiteStore) RealizedPnL(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT realized_pnl FROM trades WHERE (? = '' OR symbol = ?)`, symbol, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("realized pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(text)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// CountDecisions 某交易对的决策条数
func (s *SQLiteStore) CountDecisions(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions WHERE symbol = ?`, symbol).Scan(&n)
	return n, err
}

func parseDecimal(text string) (float64, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", text, err)
	}
	f, _ := d.Float64()
	return f, nil
}
