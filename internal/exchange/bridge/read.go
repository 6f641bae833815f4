package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"signalbot/internal/exchange"
	"strconv"
	"time"
)

// RemoteError is an error reported by the gateway itself.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("шлюз отклонил %s: %s", e.Method, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return exchange.ErrNotConnected
	}

	id := strconv.FormatUint(c.seq.Add(1), 10)
	ch, err := l.register(id)
	if err != nil {
		return err
	}
	defer l.unregister(id)

	if err := l.writeJSON(Request{ID: id, Method: method, Params: params}); err != nil {
		c.drop(l, err)
		return fmt.Errorf("Не удалось отправить %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		// A drained link closes right after the last answer is delivered.
		select {
		case resp := <-ch:
			return decodeResponse(method, resp, out)
		default:
		}
		return fmt.Errorf("%w: %v", exchange.ErrNotConnected, l.closeErr())
	case resp := <-ch:
		return decodeResponse(method, resp, out)
	}
}

func decodeResponse(method string, resp Response, out any) error {
	if resp.Error != "" {
		return &RemoteError{Method: method, Message: resp.Error}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("Не удалось разобрать ответ %s: %w", method, err)
	}
	return nil
}

func (c *Client) readLoop(l *link) {
	c.logEntry().Debug("readLoop запущен.")

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.closed:
			default:
				c.logEntry().WithError(err).Warn("Ошибка чтения из шлюза.")
			}
			c.drop(l, err)
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logEntry().WithError(err).Warn("Не удалось разобрать сообщение шлюза.")
			continue
		}
		if !l.deliver(resp) {
			c.logEntry().WithField("id", resp.ID).Debug("Ответ без ожидающего запроса.")
		}
	}
}

func (l *link) register(id string) (chan Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isClosed() || l.retired {
		return nil, exchange.ErrNotConnected
	}
	ch := make(chan Response, 1)
	l.pending[id] = ch
	return ch, nil
}

func (l *link) unregister(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	drained := l.retired && len(l.pending) == 0
	l.mu.Unlock()
	if drained {
		l.shutdown(errors.New("соединение заменено"))
	}
}

// retire stops new calls on the link. It closes the link at once when nothing
// is pending, otherwise after the last pending call returns or after grace.
// It reports whether calls are still pending.
func (l *link) retire(grace time.Duration, err error) bool {
	l.mu.Lock()
	l.retired = true
	pending := len(l.pending)
	l.mu.Unlock()

	if pending == 0 || l.isClosed() {
		l.shutdown(err)
		return false
	}
	time.AfterFunc(grace, func() { l.shutdown(err) })
	return true
}

func (l *link) closeErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *link) deliver(resp Response) bool {
	l.mu.Lock()
	ch, ok := l.pending[resp.ID]
	delete(l.pending, resp.ID)
	l.mu.Unlock()
	if ok {
		ch <- resp
	}
	return ok
}

func (l *link) writeJSON(v any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.conn.WriteJSON(v)
}

func (l *link) writeControl(messageType int, data []byte) error {
	return l.conn.WriteControl(messageType, data, time.Now().Add(time.Second))
}

func (l *link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *link) shutdown(err error) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.closed)
		_ = l.conn.Close()
	})
}
