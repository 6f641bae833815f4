package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"signalbot/internal/models"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "trades.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("Не удалось создать каталог журнала: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Не удалось создать схему журнала: %w", err)
	}

	return &SQLite{db: db}, nil
}

const upsertTrade = `
	INSERT INTO trades
	(id, asset, direction, amount, duration, timestamp, status, result, profit, balance_after)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		result = excluded.result,
		profit = excluded.profit,
		balance_after = excluded.balance_after
	WHERE trades.status <> 'COMPLETED'`

func (j *SQLite) LogTrade(ctx context.Context, t models.Trade) error {
	if err := validate(t); err != nil {
		return err
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := j.db.ExecContext(ctx, upsertTrade,
		t.ID, t.Asset, string(t.Direction), t.Amount.InexactFloat64(), t.Duration, ts.UTC(),
		string(t.Status), string(t.Result), t.Profit.InexactFloat64(), t.BalanceAfter.InexactFloat64(),
	)
	if err != nil {
		return fmt.Errorf("Не удалось записать сделку %s: %w", t.ID, err)
	}
	return nil
}

const selectTrade = `
	SELECT id, asset, direction, amount, duration, timestamp, status, result, profit, balance_after
	FROM trades`

func (j *SQLite) Trade(ctx context.Context, id string) (models.Trade, error) {
	row := j.db.QueryRowContext(ctx, selectTrade+` WHERE id = ?`, id)

	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Trade{}, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return models.Trade{}, err
	}
	return t, nil
}

func (j *SQLite) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	rows, err := j.db.QueryContext(ctx, selectTrade+`
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`, recentLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Stats(ctx context.Context) (models.Stats, error) {
	var total, wins, losses int
	var profit float64

	err := j.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN result = 'WIN' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN result = 'LOSS' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(profit), 0)
		FROM trades
		WHERE status = 'COMPLETED'`).Scan(&total, &wins, &losses, &profit)
	if err != nil {
		return models.Stats{}, err
	}

	return models.NewStats(total, wins, losses, decimal.NewFromFloat(profit)), nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (models.Trade, error) {
	var (
		t                         models.Trade
		direction, status, result string
		amount, profit, balance   float64
	)
	if err := s.Scan(
		&t.ID,
		&t.Asset,
		&direction,
		&amount,
		&t.Duration,
		&t.Timestamp,
		&status,
		&result,
		&profit,
		&balance,
	); err != nil {
		return models.Trade{}, err
	}
	t.Direction = models.Direction(direction)
	t.Status = models.TradeStatus(status)
	t.Result = models.TradeResult(result)
	t.Amount = decimal.NewFromFloat(amount)
	t.Profit = decimal.NewFromFloat(profit)
	t.BalanceAfter = decimal.NewFromFloat(balance)
	return t, nil
}
