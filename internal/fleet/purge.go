package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const purgeTimeout = time.Minute

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Purger deletes expired share links on a cron schedule.
type Purger struct {
	cron   *cron.Cron
	svc    *Service
	logger *zap.Logger
}

// NewPurger schedules PurgeExpiredShares. schedule accepts standard cron
// expressions and descriptors such as "@every 1h".
func NewPurger(svc *Service, schedule string, logger *zap.Logger) (*Purger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Purger{
		cron: cron.New(
			cron.WithLogger(cronLogger{s: logger.Sugar()}),
			cron.WithChain(cron.Recover(cronLogger{s: logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{s: logger.Sugar()})),
		),
		svc:    svc,
		logger: logger,
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("fleet: invalid share purge schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *Purger) run() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()
	n, err := p.svc.PurgeExpiredShares(ctx)
	if err != nil {
		p.logger.Error("fleet: share purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("fleet: purged expired shares", zap.Int("count", n))
	}
}

// Start runs the scheduler in its own goroutine.
func (p *Purger) Start() { p.cron.Start() }

// Stop halts the scheduler and waits for a running purge to finish or ctx
// to expire.
func (p *Purger) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
