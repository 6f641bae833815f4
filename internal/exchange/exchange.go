package exchange

import (
	"context"
	"errors"
	"signalbot/internal/models"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConnected  = errors.New("session is not connected")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrOrderRejected = errors.New("order rejected")
)

type Asset struct {
	Name string
	Open bool
}

type Order struct {
	ID       string
	Asset    string
	OpenedAt time.Time
}

// Session is a live brokerage session. Implementations must be safe for
// concurrent use: the keepalive loop and the trade executor share one.
type Session interface {
	Connect(ctx context.Context) error
	CheckConnected(ctx context.Context) bool
	// GetAvailableAsset resolves symbol to a tradable instrument. With
	// forceOpen the broker may substitute an open alias (e.g. OTC).
	GetAvailableAsset(ctx context.Context, symbol string, forceOpen bool) (Asset, error)
	Buy(ctx context.Context, amount decimal.Decimal, asset string, direction models.Direction, duration time.Duration) (Order, error)
	// CheckWin blocks until the trade is settled.
	CheckWin(ctx context.Context, tradeID string) (bool, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	PayoutByAsset(ctx context.Context, asset string) (decimal.Decimal, error)
	Close() error
}

type Factory func() Session
