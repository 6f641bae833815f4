package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

type Message struct {
	Subject string
	Body    string
}

// ParseMessage decodes the subject and picks the body: the first inline
// text/plain part of a multipart message, or the whole payload otherwise.
func ParseMessage(raw []byte) (Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Message{}, fmt.Errorf("Не удалось разобрать письмо: %w", err)
	}
	defer mr.Close()

	var msg Message
	msg.Subject, err = mr.Header.Subject()
	if err != nil {
		msg.Subject = mr.Header.Get("Subject")
	}

	mediaType, _, _ := mr.Header.ContentType()
	multipart := strings.HasPrefix(mediaType, "multipart/")

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return msg, fmt.Errorf("Не удалось прочитать часть письма: %w", err)
		}

		if !multipart {
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return msg, err
			}
			msg.Body = string(b)
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		if ct, _, _ := h.ContentType(); ct != "text/plain" {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return msg, err
		}
		msg.Body = string(b)
		break
	}

	return msg, nil
}
