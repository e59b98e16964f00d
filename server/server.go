package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailobserver/api"
	"github.com/customeros/mailobserver/config"
	"github.com/customeros/mailobserver/internal/cron"
	"github.com/customeros/mailobserver/internal/enum"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/tracing"
	"github.com/customeros/mailobserver/services/events"
	"github.com/customeros/mailobserver/services/imap"
	"github.com/customeros/mailobserver/services/observers"
	"github.com/customeros/mailobserver/services/watcher"
)

const (
	supervisorStopTimeout = 10 * time.Second
	shutdownTimeout       = 15 * time.Second
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	events       *events.EventsService
	supervisor   *watcher.Supervisor
	cron         *cron.CronManager
	tracerCloser io.Closer
	storeCloser  io.Closer
}

func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)

	store, storeCloser, err := OpenStateStore(cfg)
	if err != nil {
		closer.Close()
		return nil, err
	}

	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, cfg.AppConfig.NATSURL, appLogger, events.DefaultPublisherConfig())
	if err != nil {
		storeCloser.Close()
		closer.Close()
		return nil, err
	}

	registry := watcher.NewObserverRegistry(appLogger)
	registry.Register(observers.NewLogObserver(appLogger))
	if eventsService.Publisher != nil {
		registry.Register(events.NewRabbitMQObserver(eventsService.Publisher, appLogger))
	}
	if eventsService.NATS != nil {
		registry.Register(events.NewNATSObserver(eventsService.NATS, appLogger))
	}

	connector := imap.NewConnector(imap.Config{
		Security:           enum.EmailSecurity(cfg.ImapConfig.Security),
		InsecureSkipVerify: cfg.ImapConfig.InsecureSkipVerify,
		DialTimeout:        cfg.ImapConfig.DialTimeout,
		CommandTimeout:     cfg.ImapConfig.CommandTimeout,
		IdleLogoutTimeout:  cfg.WatcherConfig.IdleLogoutTimeout,
		IdlePollInterval:   cfg.WatcherConfig.IdlePollInterval,
	}, appLogger)

	mailbox := MailboxConfig(cfg)
	engine := watcher.NewSyncEngine(connector, mailbox, store, registry, appLogger)
	supervisor := watcher.NewSupervisor(connector, mailbox, engine, watcher.Options{
		RetryDelay:       cfg.WatcherConfig.RetryDelay,
		LivenessInterval: cfg.WatcherConfig.LivenessInterval,
	}, appLogger)

	cronManager := cron.NewCronManager(cfg.Cron, appLogger, scheduledResync(engine, appLogger))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		events:       eventsService,
		supervisor:   supervisor,
		cron:         cronManager,
		tracerCloser: closer,
		storeCloser:  storeCloser,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// MailboxConfig maps the IMAP settings onto the watched mailbox.
func MailboxConfig(cfg *config.Config) watcher.MailboxConfig {
	return watcher.MailboxConfig{
		Host:     cfg.ImapConfig.Server,
		Port:     cfg.ImapConfig.Port,
		User:     cfg.ImapConfig.User,
		Password: cfg.ImapConfig.Password,
		Mailbox:  cfg.ImapConfig.Mailbox,
	}
}

// scheduledResync runs an extra pass on a fresh session. Until the
// supervisor has primed or restored the watermark there is nothing to
// catch up on, and priming from a scheduled job would skip mail that
// arrived while the process was down.
func scheduledResync(engine *watcher.SyncEngine, log logger.Logger) cron.ResyncFunc {
	return func(ctx context.Context) error {
		if engine.Watermark() == nil {
			log.Debug("Skipping scheduled resync, watermark not established yet")
			return nil
		}
		return engine.Synchronize(ctx).Err
	}
}

// Run starts the watcher, the scheduled jobs and the HTTP server and
// blocks until a termination signal or a fatal watcher error.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api.RegisterRoutes(s.router, s.supervisor)

	watcherDone := make(chan error, 1)
	go func() {
		defer tracing.RecoverAndLogToJaeger(s.log)
		s.log.Infof("Starting watcher for %s on %s:%d", s.config.ImapConfig.Mailbox, s.config.ImapConfig.Server, s.config.ImapConfig.Port)
		watcherDone <- s.supervisor.Start(ctx)
	}()

	if err := s.cron.Start(); err != nil {
		s.supervisor.Stop()
		<-watcherDone
		s.close()
		return err
	}

	go func() {
		defer tracing.RecoverAndLogToJaeger(s.log)
		s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	}()
	s.log.Info("Mailobserver is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown(watcherDone)
}

func (s *Server) waitForShutdown(watcherDone <-chan error) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	var watcherErr error
	select {
	case sig := <-stop:
		s.log.Infof("Received %s, shutting down...", sig)
		s.supervisor.Stop()
		select {
		case watcherErr = <-watcherDone:
		case <-time.After(supervisorStopTimeout):
			s.log.Warn("Watcher stop timed out, forcing exit")
		}
	case watcherErr = <-watcherDone:
		if watcherErr != nil {
			s.log.Errorf("Watcher stopped: %v", watcherErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("HTTP server shutdown error: %v", err)
	}

	s.close()
	s.log.Info("Shutdown complete")
	return watcherErr
}

func (s *Server) close() {
	s.cron.Stop()
	if err := s.events.Close(); err != nil {
		s.log.Errorf("Error closing event publishers: %v", err)
	}
	if err := s.storeCloser.Close(); err != nil {
		s.log.Errorf("Error closing state store: %v", err)
	}
	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}
	_ = s.log.Sync()
}
