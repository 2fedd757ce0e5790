package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nevindra/dossier"
)

// DefaultMonitorInterval is how often the backend's model list is polled.
const DefaultMonitorInterval = 5 * time.Second

const monitorTimeout = 5 * time.Second

// ModelLister reports the models a backend currently serves.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ModelMonitor tracks which model the backend has loaded so requests that
// name no model can use it.
type ModelMonitor struct {
	lister   ModelLister
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	current string
}

// NewModelMonitor polls l every interval once Run is called. A non-positive
// interval uses DefaultMonitorInterval.
func NewModelMonitor(l ModelLister, interval time.Duration, logger *slog.Logger) *ModelMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if logger == nil {
		logger = nopLogger
	}
	return &ModelMonitor{lister: l, interval: interval, logger: logger}
}

// Current returns the last model seen online, or "".
func (m *ModelMonitor) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Run polls until ctx is done.
func (m *ModelMonitor) Run(ctx context.Context) {
	m.logger.Info("model monitor started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("model monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll checks the backend once and logs transitions.
func (m *ModelMonitor) Poll(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, monitorTimeout)
	defer cancel()
	ids, err := m.lister.ListModels(pctx)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if m.current == "" {
			return
		}
		var httpErr *dossier.ErrHTTP
		if errors.As(err, &httpErr) {
			m.logger.Warn("model offline", "model", m.current, "status", httpErr.Status)
		} else {
			m.logger.Warn("backend unreachable", "model", m.current, "error", err)
		}
		m.current = ""
		return
	}
	if len(ids) == 0 || ids[0] == m.current {
		return
	}
	m.current = ids[0]
	m.logger.Info("model online", "model", m.current)
}
