package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"signalbot/internal/models"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	ErrNoPayload        = errors.New("no payload found")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing field")
	ErrUnknownSide      = errors.New("unknown side")
)

// RejectError explains why a message was not turned into a signal.
type RejectError struct {
	Reason error
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error {
	return e.Reason
}

func reject(reason error, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

var sides = map[string]models.Direction{
	"Buy":  models.DirectionCall,
	"Sell": models.DirectionPut,
}

// Payload cuts the text between the first '{' and the last '}'.
func Payload(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

// Extract turns an email body such as `{"symbol":"eurusd","side":"Buy"}`
// into a signal. Every failure is returned as a *RejectError.
func Extract(raw string) (models.TradeSignal, error) {
	payload, ok := Payload(raw)
	if !ok {
		return models.TradeSignal{}, &RejectError{Reason: ErrNoPayload}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return models.TradeSignal{}, reject(ErrMalformedPayload, "%v", err)
	}

	symbol := strings.ToUpper(stringField(fields, "symbol"))
	if symbol == "" {
		return models.TradeSignal{}, reject(ErrMissingField, "symbol")
	}

	side := stringField(fields, "side")
	if side == "" {
		return models.TradeSignal{}, reject(ErrMissingField, "side")
	}
	side = cases.Title(language.Und).String(side)

	direction, ok := sides[side]
	if !ok {
		return models.TradeSignal{}, reject(ErrUnknownSide, "%q", side)
	}

	return models.TradeSignal{Symbol: symbol, Direction: direction}, nil
}

func stringField(fields map[string]any, key string) string {
	val, ok := fields[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(val)
}
