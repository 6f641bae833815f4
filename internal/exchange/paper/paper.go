package paper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"signalbot/internal/exchange"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const otcSuffix = "_otc"

type Config struct {
	Balance       decimal.Decimal
	DefaultPayout decimal.Decimal
	Payouts       map[string]decimal.Decimal
	ClosedAssets  []string
	WinRate       float64
	Seed          uint64
}

type position struct {
	id       string
	asset    string
	amount   decimal.Decimal
	payout   decimal.Decimal
	openedAt time.Time
	expires  time.Time
	win      bool
	settled  bool
}

// Session is an in-memory brokerage used for dry runs. Trades settle after
// their duration with a win probability of Config.WinRate.
type Session struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex
	connected bool
	balance   decimal.Decimal
	closed    map[string]bool
	positions map[string]*position
	rnd       *rand.Rand
	now       func() time.Time
}

func New(cfg Config, log *logger.Logger) *Session {
	closed := make(map[string]bool, len(cfg.ClosedAssets))
	for _, name := range cfg.ClosedAssets {
		closed[strings.ToUpper(name)] = true
	}
	if cfg.DefaultPayout.IsZero() {
		cfg.DefaultPayout = decimal.NewFromInt(85)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Session{
		cfg:       cfg,
		log:       log,
		balance:   cfg.Balance,
		closed:    closed,
		positions: make(map[string]*position),
		rnd:       rand.New(rand.NewPCG(seed, seed>>1|1)),
		now:       time.Now,
	}
}

func (s *Session) logEntry() *logrus.Entry {
	return s.log.WithComponent("paper")
}

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	balance := s.balance
	s.mu.Unlock()

	s.logEntry().WithField("balance", balance.String()).Info("Бумажная сессия открыта.")
	return nil
}

func (s *Session) CheckConnected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect simulates a dropped session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *Session) GetAvailableAsset(ctx context.Context, symbol string, forceOpen bool) (exchange.Asset, error) {
	if err := s.ensureConnected(); err != nil {
		return exchange.Asset{}, err
	}
	name := strings.ToUpper(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed[name] {
		return exchange.Asset{Name: name, Open: true}, nil
	}
	if !forceOpen || strings.HasSuffix(name, strings.ToUpper(otcSuffix)) {
		return exchange.Asset{Name: name, Open: false}, nil
	}
	alias := name + otcSuffix
	return exchange.Asset{Name: alias, Open: !s.closed[strings.ToUpper(alias)]}, nil
}

func (s *Session) Buy(ctx context.Context, amount decimal.Decimal, asset string, direction models.Direction, duration time.Duration) (exchange.Order, error) {
	if err := s.ensureConnected(); err != nil {
		return exchange.Order{}, err
	}
	if !direction.Valid() {
		return exchange.Order{}, fmt.Errorf("%w: направление %q", exchange.ErrOrderRejected, direction)
	}
	if !amount.IsPositive() {
		return exchange.Order{}, fmt.Errorf("%w: сумма %s", exchange.ErrOrderRejected, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.GreaterThan(s.balance) {
		return exchange.Order{}, fmt.Errorf("%w: недостаточно средств (%s < %s)", exchange.ErrOrderRejected, s.balance, amount)
	}

	now := s.now()
	pos := &position{
		id:       uuid.NewString(),
		asset:    asset,
		amount:   amount,
		payout:   s.payoutLocked(asset),
		openedAt: now,
		expires:  now.Add(duration),
		win:      s.rnd.Float64() < s.cfg.WinRate,
	}
	s.positions[pos.id] = pos
	s.balance = s.balance.Sub(amount)

	return exchange.Order{ID: pos.id, Asset: asset, OpenedAt: now}, nil
}

func (s *Session) CheckWin(ctx context.Context, tradeID string) (bool, error) {
	s.mu.Lock()
	pos, ok := s.positions[tradeID]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("сделка %s не найдена", tradeID)
	}

	if wait := time.Until(pos.expires); wait > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !pos.settled {
		pos.settled = true
		if pos.win {
			profit := pos.amount.Mul(pos.payout).Div(decimal.NewFromInt(100))
			s.balance = s.balance.Add(pos.amount).Add(profit)
		}
	}
	return pos.win, nil
}

func (s *Session) Balance(ctx context.Context) (decimal.Decimal, error) {
	if err := s.ensureConnected(); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *Session) PayoutByAsset(ctx context.Context, asset string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payoutLocked(asset), nil
}

func (s *Session) Close() error {
	s.Disconnect()
	return nil
}

func (s *Session) payoutLocked(asset string) decimal.Decimal {
	key := strings.ToUpper(strings.TrimSuffix(asset, otcSuffix))
	if payout, ok := s.cfg.Payouts[key]; ok {
		return payout
	}
	return s.cfg.DefaultPayout
}

func (s *Session) ensureConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return exchange.ErrNotConnected
	}
	return nil
}
