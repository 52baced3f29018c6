package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jagruk/preparedness/internal/metrics"
)

const alertExpiryJob = "alert_expiry"

// Expirer dismisses alerts whose expiry has passed.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

type AlertExpiry struct {
	expirer Expirer
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewAlertExpiry(expirer Expirer, timeout time.Duration, log *zap.Logger) *AlertExpiry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertExpiry{
		expirer: expirer,
		timeout: timeout,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one sweep and returns how many alerts were dismissed.
func (j *AlertExpiry) Run(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	n, err := j.expirer.ExpireDue(runCtx, j.now())
	if err != nil {
		metrics.JobRuns.WithLabelValues(alertExpiryJob, "error").Inc()
		j.log.Error("alert expiry job failed", zap.Int("dismissed", n), zap.Error(err))
		return n
	}
	metrics.JobRuns.WithLabelValues(alertExpiryJob, "ok").Inc()
	if n > 0 {
		j.log.Info("alert expiry job dismissed alerts", zap.Int("dismissed", n))
	}
	return n
}

// StartAlertExpiry schedules job on a cron spec such as "@every 1m". Runs
// never overlap. The scheduler stops when ctx ends; callers wait on the
// returned cron's Stop to drain a running sweep.
func StartAlertExpiry(ctx context.Context, spec string, job *AlertExpiry, log *zap.Logger) (*cron.Cron, error) {
	if log == nil {
		log = zap.NewNop()
	}
	logger := cronLogger{log.Sugar().With("job", alertExpiryJob)}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() { job.Run(ctx) }); err != nil {
		return nil, err
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	log.Info("alert expiry job scheduled", zap.String("schedule", spec))
	return c, nil
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
