package dbfront

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dbfront/dbfront/internal/backupsink"
	"github.com/dbfront/dbfront/internal/clock"
	"github.com/dbfront/dbfront/internal/config"
	"github.com/dbfront/dbfront/internal/endpoint/ipc"
	"github.com/dbfront/dbfront/internal/endpoint/stream"
	"github.com/dbfront/dbfront/internal/loggingutil"
	"github.com/dbfront/dbfront/internal/metrics"
	"github.com/dbfront/dbfront/internal/router"
	"github.com/dbfront/dbfront/internal/scheduler"
	"github.com/dbfront/dbfront/internal/session"
	"pkt.systems/pslog"
)

// HealthSampleInterval is the scheduler's host CPU/memory sampling
// cadence; a server-wide constant since Config has no knob for it.
const HealthSampleInterval = 5 * time.Second

// Server wires the scheduler, session registry, router, and the IPC and
// Stream endpoint listeners into one running process. Construct with
// NewServer, call Start to block serving, and Shutdown/Close to drain.
type Server struct {
	cfg    Config
	logger pslog.Logger
	clock  clock.Clock

	sched    *scheduler.Scheduler
	sessions *session.Registry
	router   *router.Router
	metrics  *metrics.Provider
	backup   backupsink.BackupSink

	ipcQueue       *ipc.ConnectionQueue
	ipcListener    *ipc.Listener
	streamListener *stream.Listener
	watcher        *config.Watcher

	metricsAddr string

	mu           sync.Mutex
	shutdown     bool
	lastServeErr error
	wg           sync.WaitGroup
	readyOnce    sync.Once
	readyCh      chan struct{}
}

// Option configures a Server at construction time.
type Option func(*options)

type options struct {
	Logger      pslog.Logger
	Clock       clock.Clock
	BackupSink  backupsink.BackupSink
	MetricsAddr string
	WatchConfig string
}

// WithLogger supplies a custom logger; every subsystem tags its own
// entries via svcfields.WithSubsystem over this logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) { o.Logger = l }
}

// WithClock injects a custom clock, primarily for deterministic tests
// of the scheduler's delayed-task queue.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.Clock = c }
}

// WithBackupSink supplies the destination Shutdown uploads a data_store
// log snapshot to, when DataStore.LogLocation is set. Absent a sink,
// Shutdown skips the backup step entirely.
func WithBackupSink(sink backupsink.BackupSink) Option {
	return func(o *options) { o.BackupSink = sink }
}

// WithMetricsAddr starts a Prometheus /metrics HTTP server on addr
// alongside the endpoint listeners. Empty (the default) disables it.
func WithMetricsAddr(addr string) Option {
	return func(o *options) { o.MetricsAddr = addr }
}

// WithConfigWatch reopens path on every write and applies the reloadable
// fields (currently data_store.log_location) without a restart.
func WithConfigWatch(path string) Option {
	return func(o *options) { o.WatchConfig = path }
}

// NewServer constructs a server according to cfg.
//
//	cfg, err := dbfront.LoadConfig("dbfront.ini")
//	srv, err := dbfront.NewServer(cfg)
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := loggingutil.EnsureLogger(o.Logger)
	clk := o.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	sched := scheduler.New(scheduler.Config{
		ThreadCount:          cfg.SQL.ThreadPoolSize,
		LazyWorker:           cfg.SQL.LazyWorker,
		HealthSampleInterval: HealthSampleInterval,
	}, logger, clk)

	sessions := session.NewRegistry(logger)
	rtr := router.New(sessions, sched, logger)

	ipcQueue := ipc.NewConnectionQueue(cfg.IPCEndpoint.Threads, cfg.IPCEndpoint.AdminSessions)
	ipcListener := ipc.NewListener(ipc.Config{
		DatabaseName:  cfg.IPCEndpoint.DatabaseName,
		Threads:       cfg.IPCEndpoint.Threads,
		AdminSessions: cfg.IPCEndpoint.AdminSessions,
	}, ipcQueue, func(req *ipc.Request, resp *ipc.Response) {
		rtr.Service(req, resp)
	}, logger)
	ipcListener.OnConnect = func(sessionID uint64) {
		rtr.Connect(sessionID, session.ConnectionIPC, fmt.Sprintf("ipc:%d", sessionID), cfg.IPCEndpoint.DatabaseName)
	}
	ipcListener.OnDisconnect = rtr.Disconnect

	streamListener := stream.NewListener(stream.Config{
		Port:         cfg.StreamEndpoint.Port,
		Threads:      cfg.StreamEndpoint.Threads,
		DatabaseName: cfg.IPCEndpoint.DatabaseName,
		ReadTimeout:  30 * time.Second,
	}, stream.Chains{
		EndpointBroker: func(req *stream.Request, resp *stream.Response) {
			_ = resp.Body(nil)
		},
		IsRouting: router.IsRoutingServiceID,
		Routing: func(req *stream.Request, resp *stream.Response) bool {
			return rtr.Route(req, resp)
		},
		General: func(req *stream.Request, resp *stream.Response) {
			rtr.Execute(req, resp)
		},
		Connect: func(sessionID uint64, label string) {
			rtr.Connect(sessionID, session.ConnectionStream, label, cfg.IPCEndpoint.DatabaseName)
		},
		Disconnect: rtr.Disconnect,
	}, logger)

	metricsProvider, err := metrics.New(logger)
	if err != nil {
		return nil, fmt.Errorf("dbfront: %w", err)
	}

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		clock:          clk,
		sched:          sched,
		sessions:       sessions,
		router:         rtr,
		metrics:        metricsProvider,
		backup:         o.BackupSink,
		ipcQueue:       ipcQueue,
		ipcListener:    ipcListener,
		streamListener: streamListener,
		metricsAddr:    o.MetricsAddr,
		readyCh:        make(chan struct{}),
	}

	if o.WatchConfig != "" {
		watcher, err := config.NewWatcher(o.WatchConfig, s.applyReload, logger)
		if err != nil {
			return nil, fmt.Errorf("dbfront: config watcher: %w", err)
		}
		s.watcher = watcher
	}

	return s, nil
}

// Router exposes the service-id dispatch table, mainly so a loopback
// admin client embedded in the same process can call it directly
// instead of going through a network transport.
func (s *Server) Router() *router.Router { return s.router }

// Sessions exposes the session registry for read-only inspection.
func (s *Server) Sessions() *session.Registry { return s.sessions }

// Scheduler exposes the task scheduler, mainly for Health()/Stats().
func (s *Server) Scheduler() *scheduler.Scheduler { return s.sched }

func (s *Server) applyReload(fields config.ReloadableFields) {
	s.mu.Lock()
	s.cfg.DataStore.LogLocation = fields.LogLocation
	s.mu.Unlock()
	s.logger.Info("server.config.reloaded", "log_location", fields.LogLocation)
}

// Start launches the scheduler and every endpoint listener, then blocks
// on the Stream listener's accept loop (the endpoint with the clearest
// "serve until closed" contract). IPC and metrics run in background
// goroutines; their errors surface through LastServeError after Shutdown
// joins them.
func (s *Server) Start() error {
	s.sched.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ipcListener.Run()
	}()

	if s.metricsAddr != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metrics.Serve(s.metricsAddr); err != nil {
				s.recordServeErr(fmt.Errorf("metrics: %w", err))
			}
		}()
	}

	streamErrCh := make(chan error, 1)
	go func() { streamErrCh <- s.streamListener.Run() }()
	for s.streamListener.Addr() == nil && len(streamErrCh) == 0 {
		time.Sleep(time.Millisecond)
	}
	s.signalReady()
	serveErr := <-streamErrCh
	s.recordServeErr(serveErr)
	if serveErr == nil || errors.Is(serveErr, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("dbfront: stream listener: %w", serveErr)
}

// Shutdown stops accepting new connections on every endpoint, drains or
// cancels in-flight sessions, stops the scheduler, uploads a data_store
// log snapshot through the configured BackupSink if any, and joins every
// background goroutine Start launched.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.ipcListener.Terminate()
	s.streamListener.Shutdown()
	_ = s.streamListener.Close()

	s.sched.Stop()

	if s.watcher != nil {
		_ = s.watcher.Close()
	}

	if err := s.uploadLogSnapshot(ctx); err != nil {
		s.logger.Warn("server.shutdown.backup_failed", "error", err)
	}

	if err := s.metrics.Shutdown(ctx); err != nil {
		s.logger.Warn("server.shutdown.metrics_failed", "error", err)
	}

	s.wg.Wait()

	return s.LastServeError()
}

// Close shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) uploadLogSnapshot(ctx context.Context) error {
	s.mu.Lock()
	location := s.cfg.DataStore.LogLocation
	sink := s.backup
	s.mu.Unlock()
	if sink == nil || location == "" {
		return nil
	}

	f, err := openLogSnapshot(location)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s.%d", filepath.Base(location), s.clock.Now().Unix())
	_, err = sink.Upload(ctx, name, f, info.Size())
	return err
}

func openLogSnapshot(path string) (*os.File, error) {
	return os.Open(path)
}

func (s *Server) recordServeErr(err error) {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return
	}
	s.mu.Lock()
	if s.lastServeErr == nil {
		s.lastServeErr = err
	}
	s.mu.Unlock()
}

// LastServeError returns the first fatal error any listener reported,
// or nil if every listener stopped cleanly.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}

// WaitUntilReady blocks until Start has launched every listener or ctx
// ends first.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
