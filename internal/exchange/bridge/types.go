package bridge

import (
	"encoding/json"
	"signalbot/internal/logger"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	MethodLogin    = "login"
	MethodPing     = "ping"
	MethodAsset    = "asset"
	MethodBuy      = "buy"
	MethodCheckWin = "check_win"
	MethodBalance  = "balance"
	MethodPayout   = "payout"
)

// Client talks to a broker gateway over a websocket. Every call is a
// Request answered by a Response carrying the same ID.
type Client struct {
	url      string
	email    string
	password string
	timeout  time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	link     *link
	draining []*link
	seq      atomic.Uint64
}

type link struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	mu        sync.Mutex
	pending   map[string]chan Response
	closed    chan struct{}
	closeOnce sync.Once
	err       error
	// retired links take no new calls and close once pending is empty.
	retired bool
}

type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type LoginParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AssetParams struct {
	Symbol    string `json:"symbol"`
	ForceOpen bool   `json:"force_open"`
}

type AssetResult struct {
	Name string `json:"name"`
	Open bool   `json:"open"`
}

type BuyParams struct {
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
	Direction string          `json:"direction"`
	Duration  int             `json:"duration"`
}

type BuyResult struct {
	ID       string `json:"id"`
	OpenedAt int64  `json:"opened_at,omitempty"`
}

type TradeParams struct {
	ID string `json:"id"`
}

type CheckWinResult struct {
	Win bool `json:"win"`
}

type BalanceResult struct {
	Balance decimal.Decimal `json:"balance"`
}

type PayoutParams struct {
	Asset string `json:"asset"`
}

type PayoutResult struct {
	Payout decimal.Decimal `json:"payout"`
}
