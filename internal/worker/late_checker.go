// Package worker holds the background loops of the server.
package worker

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// Sweeper marks overdue contributions late.
type Sweeper interface {
	SweepLate(ctx context.Context) (int, error)
}

// LateChecker periodically sweeps overdue rounds so ContributionLate is
// emitted even when nobody touches the tontine.
type LateChecker struct {
	sweeper  Sweeper
	clock    clock.Clock
	interval time.Duration
}

func NewLateChecker(sweeper Sweeper, clk clock.Clock, interval time.Duration) *LateChecker {
	return &LateChecker{sweeper: sweeper, clock: clk, interval: interval}
}

// Start runs a sweep immediately, then every interval until ctx is done.
func (c *LateChecker) Start(ctx context.Context) {
	logrus.WithField("interval", c.interval.String()).Info("Late contribution worker started")
	c.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Late contribution worker stopped")
			return
		case <-c.clock.After(c.interval):
			c.sweep(ctx)
		}
	}
}

func (c *LateChecker) sweep(ctx context.Context) {
	marked, err := c.sweeper.SweepLate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logrus.WithField("error", err.Error()).Error("Late sweep failed")
		return
	}
	logrus.WithField("marked", marked).Debug("Late sweep finished")
}
