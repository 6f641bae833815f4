package ledger

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/models"
	"strings"
)

const DefaultRecentLimit = 50

var (
	ErrNotFound     = errors.New("trade not found")
	ErrInvalidTrade = errors.New("invalid trade record")
)

// Store is the durable trade ledger. LogTrade upserts by ID: an unknown ID is
// inserted, a known OPEN record is updated in place, a COMPLETED record is
// never changed again.
type Store interface {
	LogTrade(ctx context.Context, trade models.Trade) error
	Trade(ctx context.Context, id string) (models.Trade, error)
	RecentTrades(ctx context.Context, limit int) ([]models.Trade, error)
	Stats(ctx context.Context) (models.Stats, error)
	Close() error
}

type Config struct {
	Driver string
	Path   string
}

func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite", "sqlite3":
		return NewSQLite(cfg.Path)
	case "bolt", "bbolt":
		return NewBolt(cfg.Path)
	default:
		return nil, fmt.Errorf("неизвестный драйвер журнала: %q", cfg.Driver)
	}
}

func validate(t models.Trade) error {
	if t.ID == "" {
		return fmt.Errorf("%w: пустой id", ErrInvalidTrade)
	}
	switch t.Status {
	case models.TradeStatusOpen:
		if t.Result != models.TradeResultPending {
			return fmt.Errorf("%w: открытая сделка %s с результатом %s", ErrInvalidTrade, t.ID, t.Result)
		}
	case models.TradeStatusCompleted:
		if t.Result != models.TradeResultWin && t.Result != models.TradeResultLoss {
			return fmt.Errorf("%w: завершённая сделка %s с результатом %s", ErrInvalidTrade, t.ID, t.Result)
		}
	default:
		return fmt.Errorf("%w: статус %q", ErrInvalidTrade, t.Status)
	}
	return nil
}

func recentLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}
