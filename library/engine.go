package library

import (
	"time"

	"go.uber.org/zap"
)

// LoanPeriodDays is both the initial loan length and the renewal increment.
const LoanPeriodDays = 15

// maxAttempts bounds the re-read loop used when a conditional write finds the
// row changed since it was read.
const maxAttempts = 3

type engineConfig struct {
	now     func() time.Time
	log     *zap.Logger
	metrics *CirculationMetrics
}

// EngineOption configures a LoanEngine or WaitlistEngine.
type EngineOption func(*engineConfig)

// WithClock replaces time.Now as the source of "today".
func WithClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(log *zap.Logger) EngineOption {
	return func(c *engineConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics records engine activity on m.
func WithMetrics(m *CirculationMetrics) EngineOption {
	return func(c *engineConfig) { c.metrics = m }
}

func newEngineConfig(opts []EngineOption) engineConfig {
	cfg := engineConfig{now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c engineConfig) today() Date { return DateOf(c.now()) }
