package engine

import (
	"github.com/sirupsen/logrus"
)

func (e *Engine) logEntry() *logrus.Entry {
	entry := e.log.WithComponent("engine")
	if e.cfg != nil && e.cfg.Broker.Driver != "" {
		entry = entry.WithField("broker", e.cfg.Broker.Driver)
	}
	return entry
}
