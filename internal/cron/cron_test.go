package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cron_config "github.com/customeros/mailobserver/internal/cron/config"
	"github.com/customeros/mailobserver/internal/logger"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func TestNewCronManager(t *testing.T) {
	// Arrange
	cfg := &cron_config.Config{CronScheduleHeartbeat: "0 * * * * *"}
	log := getLogger()

	// Act
	cm := NewCronManager(cfg, log, nil)

	// Assert
	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_StartRegistersJobs(t *testing.T) {
	// Arrange
	cfg := &cron_config.Config{
		CronScheduleHeartbeat: "0 * * * * *",
		CronScheduleResync:    "0 */15 * * * *",
	}
	cm := NewCronManager(cfg, getLogger(), func(ctx context.Context) error { return nil })

	// Act
	err := cm.Start()
	defer cm.Stop()

	// Assert
	require.NoError(t, err)
	assert.NotNil(t, cm.cron)
	assert.Len(t, cm.jobIDs, 2)
	assert.Contains(t, cm.jobIDs, JobHeartbeat)
	assert.Contains(t, cm.jobIDs, JobResync)
}

func TestCronManager_EmptyScheduleDisablesJob(t *testing.T) {
	cm := NewCronManager(&cron_config.Config{CronScheduleHeartbeat: "0 * * * * *"}, getLogger(),
		func(ctx context.Context) error { return nil })

	require.NoError(t, cm.Start())
	defer cm.Stop()

	assert.Len(t, cm.jobIDs, 1)
	assert.NotContains(t, cm.jobIDs, JobResync)
}

func TestCronManager_InvalidSchedule(t *testing.T) {
	cm := NewCronManager(&cron_config.Config{CronScheduleResync: "not a schedule"}, getLogger(),
		func(ctx context.Context) error { return nil })

	assert.Error(t, cm.Start())
}

func TestCronManager_ResyncRuns(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	cm := NewCronManager(&cron_config.Config{CronScheduleResync: "@every 1s"}, getLogger(),
		func(ctx context.Context) error {
			calls.Add(1)
			return errors.New("transient")
		})

	// Act
	require.NoError(t, cm.Start())
	defer cm.Stop()

	// Assert
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestCronManager_Stop(t *testing.T) {
	// Arrange
	cm := NewCronManager(nil, getLogger(), nil)
	mockCron := cronv3.New()
	mockCron.Start()
	cm.cron = mockCron

	// Act
	cm.Stop()
	cm.Stop()

	// Assert
	select {
	case <-cm.stopCh:
		// Channel is closed as expected
	default:
		t.Error("Stop channel was not closed")
	}
}

func TestCronManager_StopCancelsRunningResync(t *testing.T) {
	// Arrange
	started := make(chan struct{}, 1)
	resyncErr := make(chan error, 1)
	cm := NewCronManager(&cron_config.Config{CronScheduleResync: "@every 1s"}, getLogger(),
		func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			resyncErr <- ctx.Err()
			return ctx.Err()
		})
	require.NoError(t, cm.Start())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("resync job never started")
	}

	// Act
	stopped := make(chan struct{})
	go func() {
		cm.Stop()
		close(stopped)
	}()

	// Assert
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited for the running resync instead of cancelling it")
	}
	assert.ErrorIs(t, <-resyncErr, context.Canceled)
}
