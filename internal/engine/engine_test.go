package engine

import (
	"context"
	"errors"
	"signalbot/internal/config"
	"signalbot/internal/exchange"
	"signalbot/internal/logger"
	"signalbot/internal/mailbox"
	"signalbot/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type buyCall struct {
	amount    decimal.Decimal
	asset     string
	direction models.Direction
	duration  time.Duration
}

type fakeSession struct {
	mu sync.Mutex

	asset      exchange.Asset
	assetErr   error
	buyErr     error
	orderID    string
	win        bool
	winErr     error
	balance    decimal.Decimal
	balanceErr error
	payout     decimal.Decimal

	connectErr  error
	failConnect int
	alive       bool
	panicCheck  bool

	buys     []buyCall
	connects int
	closes   int
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connectErr != nil || s.connects <= s.failConnect {
		return errors.New("connect refused")
	}
	s.alive = true
	return nil
}

func (s *fakeSession) CheckConnected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicCheck {
		panic("broken socket")
	}
	return s.alive
}

func (s *fakeSession) GetAvailableAsset(ctx context.Context, symbol string, forceOpen bool) (exchange.Asset, error) {
	if s.assetErr != nil {
		return exchange.Asset{}, s.assetErr
	}
	return s.asset, nil
}

func (s *fakeSession) Buy(ctx context.Context, amount decimal.Decimal, asset string, direction models.Direction, duration time.Duration) (exchange.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buys = append(s.buys, buyCall{amount, asset, direction, duration})
	if s.buyErr != nil {
		return exchange.Order{}, s.buyErr
	}
	return exchange.Order{ID: s.orderID, Asset: asset, OpenedAt: time.Now()}, nil
}

func (s *fakeSession) CheckWin(ctx context.Context, tradeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.win, s.winErr
}

func (s *fakeSession) Balance(ctx context.Context) (decimal.Decimal, error) {
	return s.balance, s.balanceErr
}

func (s *fakeSession) PayoutByAsset(ctx context.Context, asset string) (decimal.Decimal, error) {
	return s.payout, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.alive = false
	return nil
}

func (s *fakeSession) stats() (connects, closes, buys int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.closes, len(s.buys)
}

type fakeStore struct {
	mu     sync.Mutex
	writes []models.Trade
}

func (f *fakeStore) LogTrade(ctx context.Context, trade models.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, trade)
	return nil
}

func (f *fakeStore) Trade(ctx context.Context, id string) (models.Trade, error) {
	return models.Trade{}, errors.New("not implemented")
}

func (f *fakeStore) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	return nil, nil
}

func (f *fakeStore) Stats(ctx context.Context) (models.Stats, error) {
	return models.Stats{}, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) all() []models.Trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Trade(nil), f.writes...)
}

type recordingNotifier struct {
	opened, settled int
}

func (r *recordingNotifier) TradeOpened(context.Context, models.Trade) error {
	r.opened++
	return nil
}

func (r *recordingNotifier) TradeSettled(context.Context, models.Trade) error {
	r.settled++
	return nil
}

func testLogger() (*logger.Logger, *test.Hook) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	return logger.Wrap(base), hook
}

func newTestExecutor(store *fakeStore, n *recordingNotifier) *Executor {
	log, _ := testLogger()
	x := NewExecutor(config.TradeConfig{Amount: 50, Duration: time.Minute}, store, n, log)
	x.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	x.lookupBackoff = time.Millisecond
	return x
}

var eurusdCall = models.TradeSignal{Symbol: "EURUSD", Direction: models.DirectionCall}

func TestExecuteClosedAsset(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sess := &fakeSession{asset: exchange.Asset{Name: "EURUSD", Open: false}}

	newTestExecutor(store, &recordingNotifier{}).Execute(context.Background(), sess, eurusdCall)

	_, _, buys := sess.stats()
	assert.Zero(t, buys)
	assert.Empty(t, store.all())
}

func TestExecuteAssetLookupError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sess := &fakeSession{assetErr: exchange.ErrNotConnected}

	newTestExecutor(store, &recordingNotifier{}).Execute(context.Background(), sess, eurusdCall)

	_, _, buys := sess.stats()
	assert.Zero(t, buys)
	assert.Empty(t, store.all())
}

func TestExecuteWin(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	n := &recordingNotifier{}
	sess := &fakeSession{
		asset:   exchange.Asset{Name: "EURUSD_otc", Open: true},
		orderID: "T1",
		win:     true,
		balance: decimal.RequireFromString("1042.5"),
		payout:  decimal.NewFromInt(85),
	}

	newTestExecutor(store, n).Execute(context.Background(), sess, eurusdCall)

	require.Len(t, sess.buys, 1)
	assert.True(t, decimal.NewFromInt(50).Equal(sess.buys[0].amount))
	assert.Equal(t, "EURUSD_otc", sess.buys[0].asset)
	assert.Equal(t, models.DirectionCall, sess.buys[0].direction)
	assert.Equal(t, time.Minute, sess.buys[0].duration)

	writes := store.all()
	require.Len(t, writes, 2)

	opened := writes[0]
	assert.Equal(t, "T1", opened.ID)
	assert.Equal(t, models.TradeStatusOpen, opened.Status)
	assert.Equal(t, models.TradeResultPending, opened.Result)
	assert.Equal(t, 60, opened.Duration)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), opened.Timestamp)

	settled := writes[1]
	assert.Equal(t, "T1", settled.ID)
	assert.Equal(t, models.TradeStatusCompleted, settled.Status)
	assert.Equal(t, models.TradeResultWin, settled.Result)
	assert.Equal(t, "42.5", settled.Profit.String())
	assert.Equal(t, "1042.5", settled.BalanceAfter.String())
	assert.Equal(t, opened.Timestamp, settled.Timestamp)

	assert.Equal(t, 1, n.opened)
	assert.Equal(t, 1, n.settled)
}

func TestExecuteLogsTradeFields(t *testing.T) {
	t.Parallel()

	log, hook := testLogger()
	x := NewExecutor(config.TradeConfig{Amount: 50, Duration: time.Minute}, &fakeStore{}, &recordingNotifier{}, log)
	x.lookupBackoff = time.Millisecond
	sess := &fakeSession{
		asset:   exchange.Asset{Name: "EURUSD_otc", Open: true},
		orderID: "T1",
		win:     true,
		balance: decimal.NewFromInt(1000),
		payout:  decimal.NewFromInt(85),
	}

	x.Execute(context.Background(), sess, eurusdCall)

	var opened *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Сделка открыта." {
			opened = e
		}
	}
	require.NotNil(t, opened)
	assert.Equal(t, "T1", opened.Data["trade_id"])
	assert.Equal(t, "EURUSD", opened.Data["symbol"])
	assert.Equal(t, "trade", opened.Data["component"])
	assert.Equal(t, models.DirectionCall, opened.Data["direction"])
}

func TestExecuteLoss(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sess := &fakeSession{
		asset:   exchange.Asset{Name: "GBPUSD", Open: true},
		orderID: "T2",
		win:     false,
		balance: decimal.NewFromInt(950),
		payout:  decimal.NewFromInt(80),
	}

	newTestExecutor(store, &recordingNotifier{}).Execute(context.Background(), sess, models.TradeSignal{Symbol: "GBPUSD", Direction: models.DirectionPut})

	writes := store.all()
	require.Len(t, writes, 2)
	assert.Equal(t, models.TradeResultLoss, writes[1].Result)
	assert.Equal(t, "-50", writes[1].Profit.String())
}

func TestExecuteBuyFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	n := &recordingNotifier{}
	sess := &fakeSession{
		asset:  exchange.Asset{Name: "EURUSD", Open: true},
		buyErr: exchange.ErrOrderRejected,
	}

	newTestExecutor(store, n).Execute(context.Background(), sess, eurusdCall)

	assert.Empty(t, store.all())
	assert.Zero(t, n.opened)
}

func TestExecuteCheckWinFailureLeavesOpen(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sess := &fakeSession{
		asset:   exchange.Asset{Name: "EURUSD", Open: true},
		orderID: "T3",
		winErr:  errors.New("socket closed"),
	}

	newTestExecutor(store, &recordingNotifier{}).Execute(context.Background(), sess, eurusdCall)

	writes := store.all()
	require.Len(t, writes, 1)
	assert.Equal(t, models.TradeStatusOpen, writes[0].Status)
}

func TestExecuteBalanceFailureStillCompletes(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sess := &fakeSession{
		asset:      exchange.Asset{Name: "EURUSD", Open: true},
		orderID:    "T4",
		win:        true,
		balanceErr: errors.New("timeout"),
		payout:     decimal.NewFromInt(90),
	}

	newTestExecutor(store, &recordingNotifier{}).Execute(context.Background(), sess, eurusdCall)

	writes := store.all()
	require.Len(t, writes, 2)
	assert.Equal(t, models.TradeStatusCompleted, writes[1].Status)
	assert.True(t, writes[1].BalanceAfter.IsZero())
	assert.Equal(t, "45", writes[1].Profit.String())
}

func TestExecuteIgnoresCancellation(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sess := &fakeSession{
		asset:   exchange.Asset{Name: "EURUSD", Open: true},
		orderID: "T5",
		win:     true,
		payout:  decimal.NewFromInt(85),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	newTestExecutor(store, &recordingNotifier{}).Execute(ctx, sess, eurusdCall)

	writes := store.all()
	require.Len(t, writes, 2)
	assert.Equal(t, models.TradeStatusCompleted, writes[1].Status)
}

func TestHolderWait(t *testing.T) {
	t.Parallel()

	h := newHolder()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	sess := &fakeSession{}
	got := make(chan exchange.Session, 1)
	go func() {
		s, _ := h.Wait(context.Background())
		got <- s
	}()
	time.Sleep(5 * time.Millisecond)
	h.publish(sess)

	select {
	case s := <-got:
		assert.Same(t, sess, s)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after publish")
	}

	h.unpublish()
	h.unpublish()
	h.publish(sess)
	h.publish(sess)
	s, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, sess, s)
}

type nopConn struct{}

func (nopConn) Login(string, string) error            { return nil }
func (nopConn) Select(string) error                   { return nil }
func (nopConn) SearchUnseen(string) ([]uint32, error) { return nil, nil }
func (nopConn) Fetch(uint32) ([]byte, error)          { return nil, errors.New("empty") }
func (nopConn) Logout() error                         { return nil }

// signalDialer serves one signal email on its first session, then an empty inbox.
type signalDialer struct {
	mu   sync.Mutex
	sent bool
}

func (d *signalDialer) Dial(ctx context.Context) (mailbox.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sent {
		return nopConn{}, nil
	}
	d.sent = true
	return &oneMessageConn{}, nil
}

type oneMessageConn struct{ nopConn }

func (oneMessageConn) SearchUnseen(string) ([]uint32, error) { return []uint32{1}, nil }

func (oneMessageConn) Fetch(uint32) ([]byte, error) {
	return []byte("Subject: Alert: quotex bot\r\nContent-Type: text/plain\r\n\r\n{\"symbol\":\"eurusd\",\"side\":\"Buy\"}\r\n"), nil
}

type emptyDialer struct{}

func (emptyDialer) Dial(context.Context) (mailbox.Conn, error) { return nopConn{}, nil }

func testConfig() *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{Driver: "paper"},
		Mailbox: config.MailboxConfig{
			User:          "me@example.com",
			Password:      "secret",
			Folder:        "INBOX",
			SubjectFilter: "Alert: quotex bot",
		},
		Trade: config.TradeConfig{Amount: 50, Duration: time.Minute},
		Runtime: config.RuntimeConfig{
			KeepaliveInterval:    5 * time.Millisecond,
			ReconnectDelay:       5 * time.Millisecond,
			MaxReconnectFailures: 3,
			PollInterval:         5 * time.Millisecond,
			ErrorBackoff:         5 * time.Millisecond,
		},
	}
}

type sessionQueue struct {
	mu       sync.Mutex
	sessions []*fakeSession
	built    int
}

func (q *sessionQueue) next() exchange.Session {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.built++
	if len(q.sessions) == 0 {
		return &fakeSession{}
	}
	s := q.sessions[0]
	q.sessions = q.sessions[1:]
	return s
}

func (q *sessionQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.built
}

func runEngine(t *testing.T, e *Engine) (cancel func()) {
	t.Helper()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
		}
	}
}

func TestEngineProcessesSignal(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{
		asset:   exchange.Asset{Name: "EURUSD_otc", Open: true},
		orderID: "T1",
		win:     true,
		balance: decimal.NewFromInt(1042),
		payout:  decimal.NewFromInt(85),
	}
	q := &sessionQueue{sessions: []*fakeSession{sess}}
	store := &fakeStore{}
	log, _ := testLogger()

	e := New(testConfig(), q.next, &signalDialer{}, store, nil, log)
	stop := runEngine(t, e)

	require.Eventually(t, func() bool { return len(store.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, e.State())
	stop()

	writes := store.all()
	assert.Equal(t, models.TradeStatusCompleted, writes[1].Status)
	assert.Equal(t, "42.5", writes[1].Profit.String())
	assert.Equal(t, StateDisconnected, e.State())
	_, closes, _ := sess.stats()
	assert.Equal(t, 1, closes)
}

func TestEngineRetriesConnect(t *testing.T) {
	t.Parallel()

	first := &fakeSession{connectErr: errors.New("down")}
	second := &fakeSession{}
	q := &sessionQueue{sessions: []*fakeSession{first, second}}
	log, _ := testLogger()

	e := New(testConfig(), q.next, emptyDialer{}, &fakeStore{}, nil, log)
	stop := runEngine(t, e)
	defer stop()

	require.Eventually(t, func() bool { return e.State() == StateConnected }, 2*time.Second, time.Millisecond)
	_, closes, _ := first.stats()
	assert.Equal(t, 1, closes, "failed session is closed before retry")
}

func TestEngineReconnectsInPlace(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	q := &sessionQueue{sessions: []*fakeSession{sess}}
	log, _ := testLogger()

	e := New(testConfig(), q.next, emptyDialer{}, &fakeStore{}, nil, log)
	stop := runEngine(t, e)
	defer stop()

	require.Eventually(t, func() bool { return e.State() == StateConnected }, 2*time.Second, time.Millisecond)

	sess.mu.Lock()
	sess.alive = false
	sess.mu.Unlock()

	require.Eventually(t, func() bool {
		connects, _, _ := sess.stats()
		return connects >= 2 && e.State() == StateConnected
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, q.count(), "session is reused after an in-place reconnect")
}

func TestEngineRebuildsSessionAfterKeepaliveGivesUp(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{failConnect: 0}
	q := &sessionQueue{sessions: []*fakeSession{sess}}
	log, hook := testLogger()

	e := New(testConfig(), q.next, emptyDialer{}, &fakeStore{}, nil, log)
	stop := runEngine(t, e)
	defer stop()

	require.Eventually(t, func() bool { return e.State() == StateConnected }, 2*time.Second, time.Millisecond)

	sess.mu.Lock()
	sess.alive = false
	sess.connectErr = errors.New("gone")
	sess.mu.Unlock()

	require.Eventually(t, func() bool {
		_, closes, _ := sess.stats()
		return closes == 1 && q.count() >= 2
	}, 2*time.Second, time.Millisecond)

	connects, _, _ := sess.stats()
	assert.Equal(t, 1+3, connects, "three in-place attempts before giving up")

	var lost bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Сессия брокера потеряна, повторное подключение." {
			lost = true
		}
	}
	assert.True(t, lost)
}

func TestEngineRecoversKeepalivePanic(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	q := &sessionQueue{sessions: []*fakeSession{sess}}
	log, _ := testLogger()

	e := New(testConfig(), q.next, emptyDialer{}, &fakeStore{}, nil, log)
	stop := runEngine(t, e)
	defer stop()

	require.Eventually(t, func() bool { return e.State() == StateConnected }, 2*time.Second, time.Millisecond)

	sess.mu.Lock()
	sess.panicCheck = true
	sess.mu.Unlock()

	require.Eventually(t, func() bool { return q.count() >= 2 }, 2*time.Second, time.Millisecond)
	_, closes, _ := sess.stats()
	assert.Equal(t, 1, closes)
}

func TestEngineStartOnce(t *testing.T) {
	t.Parallel()

	log, _ := testLogger()
	q := &sessionQueue{}
	e := New(testConfig(), q.next, emptyDialer{}, &fakeStore{}, nil, log)
	stop := runEngine(t, e)
	defer stop()

	require.Eventually(t, func() bool { return e.State() == StateConnected }, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)
}
