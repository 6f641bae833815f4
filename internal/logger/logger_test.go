package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, logrus.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("nonsense"))
}

func TestWrapFields(t *testing.T) {
	t.Parallel()

	base, hook := test.NewNullLogger()
	log := Wrap(base)

	log.WithComponent("poller").WithField("x", 1).Info("hello")
	log.WithTradeID("T1").Warn("trade")

	require.Len(t, hook.AllEntries(), 2)
	first := hook.AllEntries()[0]
	assert.Equal(t, "poller", first.Data["component"])
	assert.Equal(t, "hello", first.Message)
	assert.Equal(t, "T1", hook.LastEntry().Data["trade_id"])
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestNewWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	log := New(Config{Level: "info", Format: "json", Output: path, MaxSize: 1})

	log.WithSymbol("EURUSD").Info("written")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"symbol":"EURUSD"`)
	assert.Contains(t, string(data), "written")
}
