package bridge

import (
	"context"
	"errors"
	"fmt"
	"signalbot/internal/exchange"
	"signalbot/internal/logger"
	"signalbot/internal/models"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func New(url, email, password string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:      url,
		email:    email,
		password: password,
		timeout:  timeout,
		log:      log,
	}
}

func (c *Client) logEntry() *logrus.Entry {
	return c.log.WithComponent("bridge").WithField("url", c.url)
}

// drainTimeout bounds how long a replaced link stays open for its pending calls.
const drainTimeout = 15 * time.Minute

// Connect dials the gateway and logs in. A replaced connection that is still
// open keeps serving its pending calls and closes once they are answered.
func (c *Client) Connect(ctx context.Context) error {
	c.logEntry().Info("Подключение к шлюзу брокера.")

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("Не удалось подключиться к шлюзу: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	l := &link{
		conn:    conn,
		pending: make(map[string]chan Response),
		closed:  make(chan struct{}),
	}
	go c.readLoop(l)

	c.mu.Lock()
	old := c.link
	c.link = l
	if old != nil && !old.isClosed() {
		c.draining = append(openLinks(c.draining), old)
	}
	c.mu.Unlock()
	if old != nil && old.retire(drainTimeout, errors.New("соединение заменено")) {
		c.logEntry().Debug("Старое соединение ожидает ответов на запросы.")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.call(callCtx, MethodLogin, LoginParams{Email: c.email, Password: c.password}, nil); err != nil {
		c.drop(l, err)
		var remote *RemoteError
		if errors.As(err, &remote) {
			return fmt.Errorf("%w: %s", exchange.ErrAuthFailed, remote.Message)
		}
		return err
	}

	c.logEntry().Info("Вход в шлюз выполнен.")
	return nil
}

func (c *Client) CheckConnected(ctx context.Context) bool {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil || l.isClosed() {
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.call(pingCtx, MethodPing, nil, nil); err != nil {
		c.logEntry().WithError(err).Warn("Ping шлюза не прошёл.")
		return false
	}
	return true
}

func (c *Client) GetAvailableAsset(ctx context.Context, symbol string, forceOpen bool) (exchange.Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var res AssetResult
	if err := c.call(ctx, MethodAsset, AssetParams{Symbol: symbol, ForceOpen: forceOpen}, &res); err != nil {
		return exchange.Asset{}, err
	}
	if res.Name == "" {
		res.Name = symbol
	}
	return exchange.Asset{Name: res.Name, Open: res.Open}, nil
}

func (c *Client) Buy(ctx context.Context, amount decimal.Decimal, asset string, direction models.Direction, duration time.Duration) (exchange.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := BuyParams{
		Amount:    amount,
		Asset:     asset,
		Direction: direction.Wire(),
		Duration:  int(duration / time.Second),
	}
	var res BuyResult
	if err := c.call(ctx, MethodBuy, params, &res); err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			return exchange.Order{}, fmt.Errorf("%w: %s", exchange.ErrOrderRejected, remote.Message)
		}
		return exchange.Order{}, err
	}
	if res.ID == "" {
		return exchange.Order{}, fmt.Errorf("%w: шлюз не вернул id сделки", exchange.ErrOrderRejected)
	}

	order := exchange.Order{ID: res.ID, Asset: asset, OpenedAt: time.Now()}
	if res.OpenedAt > 0 {
		order.OpenedAt = time.Unix(res.OpenedAt, 0)
	}
	return order, nil
}

// CheckWin has no call timeout: the gateway answers at expiry.
func (c *Client) CheckWin(ctx context.Context, tradeID string) (bool, error) {
	var res CheckWinResult
	if err := c.call(ctx, MethodCheckWin, TradeParams{ID: tradeID}, &res); err != nil {
		return false, err
	}
	return res.Win, nil
}

func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var res BalanceResult
	if err := c.call(ctx, MethodBalance, nil, &res); err != nil {
		return decimal.Zero, err
	}
	return res.Balance, nil
}

func (c *Client) PayoutByAsset(ctx context.Context, asset string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var res PayoutResult
	if err := c.call(ctx, MethodPayout, PayoutParams{Asset: asset}, &res); err != nil {
		return decimal.Zero, err
	}
	return res.Payout, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	l := c.link
	draining := c.draining
	c.link = nil
	c.draining = nil
	c.mu.Unlock()

	for _, d := range draining {
		d.shutdown(exchange.ErrNotConnected)
	}
	if l == nil {
		return nil
	}
	_ = l.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	l.shutdown(exchange.ErrNotConnected)
	return nil
}

func openLinks(links []*link) []*link {
	open := links[:0]
	for _, l := range links {
		if !l.isClosed() {
			open = append(open, l)
		}
	}
	return open
}

func (c *Client) drop(l *link, err error) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	l.shutdown(err)
}
