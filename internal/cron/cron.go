package cron

import (
	"context"
	"os"
	"sync"

	cronv3 "github.com/robfig/cron/v3"

	cron_config "github.com/customeros/mailobserver/internal/cron/config"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/tracing"
)

const (
	JobHeartbeat = "heartbeat"
	JobResync    = "resync"
)

// ResyncFunc runs one synchronization pass outside the push path.
type ResyncFunc func(ctx context.Context) error

type CronManager struct {
	cfg      *cron_config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	resync   ResyncFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	jobIDs   map[string]cronv3.EntryID
}

func NewCronManager(cfg *cron_config.Config, log logger.Logger, resync ResyncFunc) *CronManager {
	if cfg == nil {
		cfg = &cron_config.Config{}
	}
	return &CronManager{
		cfg:    cfg,
		log:    log,
		resync: resync,
		stopCh: make(chan struct{}),
		jobIDs: make(map[string]cronv3.EntryID),
	}
}

// Start builds the scheduler, registers the configured jobs and starts
// it. A job with an empty schedule is not registered.
func (cm *CronManager) Start() error {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger), // Skip if still running
			cronv3.Recover(cronv3.DefaultLogger),            // Default recovery as backup
		),
	}
	c := cronv3.New(cronOptions...)
	if err := cm.registerJobs(c); err != nil {
		return err
	}
	c.Start()
	cm.cron = c
	return nil
}

// Stop cancels a running resync, waits for running jobs and stops the
// scheduler. It is safe to call more than once.
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		// cancels a resync that is still running
		close(cm.stopCh)
		if cm.cron != nil {
			cm.log.Info("Stopping cron manager")
			ctx := cm.cron.Stop()
			// Wait for jobs to finish
			<-ctx.Done()
		}
	})
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) error {
	if cm.cfg.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cm.cfg.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			return err
		}
		cm.jobIDs[JobHeartbeat] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cm.cfg.CronScheduleHeartbeat)
	}

	if cm.cfg.CronScheduleResync != "" && cm.resync != nil {
		id, err := c.AddFunc(cm.cfg.CronScheduleResync, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.runResync()
		})
		if err != nil {
			return err
		}
		cm.jobIDs[JobResync] = id
		cm.log.Infof("Registered resync job with schedule: %s", cm.cfg.CronScheduleResync)
	}

	return nil
}

func (cm *CronManager) runResync() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-cm.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	span, spanCtx := tracing.StartTracerSpan(ctx, "CronManager.runResync")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if err := cm.resync(spanCtx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Scheduled resync failed: %v", err)
		return
	}
	cm.log.Debug("Scheduled resync completed")
}
