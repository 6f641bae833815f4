package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"signalbot/internal/models"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	bolt "go.etcd.io/bbolt"
)

var tradesBucket = []byte("trades")

// Bolt keeps each trade as a JSON value keyed by trade id.
type Bolt struct {
	db *bolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	if path == "" {
		path = "trades.bolt"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("Не удалось создать каталог журнала: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tradesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) LogTrade(ctx context.Context, t models.Trade) error {
	if err := validate(t); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(tradesBucket)
		key := []byte(t.ID)

		record := t
		if raw := bucket.Get(key); raw != nil {
			var existing models.Trade
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("Повреждена запись сделки %s: %w", t.ID, err)
			}
			if existing.IsCompleted() {
				return nil
			}
			record = existing
			record.Status = t.Status
			record.Result = t.Result
			record.Profit = t.Profit
			record.BalanceAfter = t.BalanceAfter
		} else if record.Timestamp.IsZero() {
			record.Timestamp = time.Now()
		}
		record.Timestamp = record.Timestamp.UTC()

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put(key, data)
	})
}

func (b *Bolt) Trade(ctx context.Context, id string) (models.Trade, error) {
	var t models.Trade
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(tradesBucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return json.Unmarshal(raw, &t)
	})
	return t, err
}

func (b *Bolt) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if n := recentLimit(limit); len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (b *Bolt) Stats(ctx context.Context) (models.Stats, error) {
	all, err := b.all()
	if err != nil {
		return models.Stats{}, err
	}

	var total, wins, losses int
	profit := decimal.Zero
	for _, t := range all {
		if !t.IsCompleted() {
			continue
		}
		total++
		switch t.Result {
		case models.TradeResultWin:
			wins++
		case models.TradeResultLoss:
			losses++
		}
		profit = profit.Add(t.Profit)
	}
	return models.NewStats(total, wins, losses, profit), nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) all() ([]models.Trade, error) {
	out := []models.Trade{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tradesBucket).ForEach(func(k, v []byte) error {
			var t models.Trade
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("Повреждена запись сделки %s: %w", k, err)
			}
			out = append(out, t)
			return nil
		})
	})
	return out, err
}
