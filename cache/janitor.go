package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/memophor/scedge/types"
)

const defaultJanitorInterval = 30 * time.Second

// Janitor periodically sweeps expired artifacts so memory is reclaimed even
// for keys nobody reads again. Lazy expiry on lookup remains the correctness
// mechanism; the janitor is only hygiene.
type Janitor struct {
	manager  *Manager
	logger   types.Logger
	cron     *cron.Cron
	interval time.Duration
	started  int32
}

func NewJanitor(manager *Manager, logger types.Logger, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}

	cronL := cronLogger{logger: logger}

	return &Janitor{
		manager:  manager,
		logger:   logger,
		interval: interval,
		cron:     cron.New(cron.WithChain(cron.Recover(cronL))),
	}
}

func (j *Janitor) Start() error {
	if !atomic.CompareAndSwapInt32(&j.started, 0, 1) {
		return nil
	}

	spec := fmt.Sprintf("@every %s", j.interval)
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		atomic.StoreInt32(&j.started, 0)
		return types.WrapError(err, "failed to schedule janitor sweep")
	}

	j.cron.Start()
	j.logger.Info("Janitor started", zap.Duration("interval", j.interval))

	return nil
}

func (j *Janitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&j.started, 1, 0) {
		return types.ErrJanitorNotRunning
	}

	stopCtx := j.cron.Stop()
	select {
	case <-stopCtx.Done():
		j.logger.Info("Janitor stopped gracefully")
	case <-time.After(5 * time.Second):
		j.logger.Warn("Janitor shutdown timeout")
	}

	return nil
}

func (j *Janitor) IsRunning() bool {
	return atomic.LoadInt32(&j.started) == 1
}

// sweep runs one eviction pass. A failing pass is logged and skipped; the
// schedule keeps going.
func (j *Janitor) sweep() {
	start := time.Now()

	removed, err := j.manager.Sweep(start)
	if err != nil {
		j.logger.ErrorWithCause("Janitor sweep failed", err)
		return
	}

	if removed > 0 {
		j.logger.Info("Janitor sweep completed",
			zap.Int("expired", removed),
			zap.Duration("elapsed", time.Since(start)))
	} else {
		j.logger.Debug("Janitor sweep completed, nothing expired")
	}
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, toZapFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(toZapFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func toZapFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
