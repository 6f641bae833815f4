package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Conn is one authenticated-or-not mailbox session, used for a single cycle.
type Conn interface {
	Login(user, password string) error
	Select(folder string) error
	// SearchUnseen returns ids of unread messages whose subject contains subject.
	SearchUnseen(subject string) ([]uint32, error)
	// Fetch returns the full RFC 822 message. Fetching marks it as read.
	Fetch(id uint32) ([]byte, error)
	Logout() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type IMAPDialer struct {
	Addr    string
	TLS     *tls.Config
	Timeout time.Duration
}

func (d IMAPDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	nd := &net.Dialer{Timeout: timeout}
	if deadline, ok := ctx.Deadline(); ok {
		nd.Deadline = deadline
	}

	c, err := client.DialWithDialerTLS(nd, d.Addr, d.TLS)
	if err != nil {
		return nil, fmt.Errorf("Не удалось подключиться к IMAP %s: %w", d.Addr, err)
	}
	c.Timeout = timeout
	return &imapConn{c: c}, nil
}

type imapConn struct {
	c *client.Client
}

func (i *imapConn) Login(user, password string) error {
	if err := i.c.Login(user, password); err != nil {
		return fmt.Errorf("Ошибка входа в почту: %w", err)
	}
	return nil
}

func (i *imapConn) Select(folder string) error {
	if _, err := i.c.Select(folder, false); err != nil {
		return fmt.Errorf("Не удалось выбрать папку %s: %w", folder, err)
	}
	return nil
}

func (i *imapConn) SearchUnseen(subject string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if subject != "" {
		criteria.Header.Add("Subject", subject)
	}

	ids, err := i.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("Ошибка поиска писем: %w", err)
	}
	return ids, nil
}

func (i *imapConn) Fetch(id uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- i.c.Fetch(seqset, items, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		raw, readErr = io.ReadAll(r)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("Не удалось получить письмо %d: %w", id, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("Не удалось прочитать письмо %d: %w", id, readErr)
	}
	if raw == nil {
		return nil, fmt.Errorf("Письмо %d не найдено.", id)
	}
	return raw, nil
}

func (i *imapConn) Logout() error {
	return i.c.Logout()
}
