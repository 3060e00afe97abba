// Package service owns every coordinator component, wires them together and
// implements the dependencies of the transport and HTTP layers.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/netvr/internal/adapters/dashboard"
	"github.com/okian/netvr/internal/adapters/discovery"
	"github.com/okian/netvr/internal/adapters/http/api"
	"github.com/okian/netvr/internal/adapters/http/swagger"
	"github.com/okian/netvr/internal/adapters/mq/queue"
	"github.com/okian/netvr/internal/adapters/persist"
	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/adapters/registry"
	"github.com/okian/netvr/internal/adapters/repository"
	"github.com/okian/netvr/internal/adapters/transport"
	"github.com/okian/netvr/internal/app/calibration"
	"github.com/okian/netvr/internal/app/coordinator"
	"github.com/okian/netvr/internal/config"
	rigid "github.com/okian/netvr/internal/domain/calibration"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

const (
	worldEventInterval    = 100 * time.Millisecond
	systemMetricsInterval = 5 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// Service runs the coordinator.
type Service struct {
	// lifecycle serialises Start and Stop. mu guards the fields they set.
	lifecycle sync.Mutex
	mu        sync.RWMutex

	cfg    *config.Config
	logger logger.Logger

	// Core components
	store       repository.Store
	registry    *registry.Registry
	queue       *queue.InMemoryQueue
	coordinator *coordinator.Coordinator
	calibration *calibration.Manager
	dumper      *persist.Dumper
	hub         *dashboard.Hub

	// Endpoints
	stream     *transport.Server
	datagrams  *transport.DatagramSocket
	discovery  *discovery.Responder
	httpServer *http.Server
	httpLn     net.Listener

	// State
	started   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	done      chan struct{}
	startedAt time.Time

	dirtyMu   sync.Mutex
	dirty     map[model.ClientID]struct{}
	announced map[model.ClientID]struct{}
	lastWorld time.Time
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Without it config.New() is used.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:       config.New(),
		dirty:     make(map[model.ClientID]struct{}),
		announced: make(map[model.ClientID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components, binds every endpoint and runs them in the
// background. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.isStarted() {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting coordinator",
		logger.String("stream_addr", cfg.StreamAddr),
		logger.String("datagram_addr", cfg.DatagramAddr),
		logger.String("http_addr", cfg.Addr))

	s.store = repository.NewSnapshotStore()
	s.registry = registry.New()
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.CommandQueueSize))
	s.hub = dashboard.NewHub()
	s.coordinator = coordinator.New(s.queue, s.registry,
		coordinator.WithTickInterval(cfg.TickInterval()),
		coordinator.WithWorldObserver(s.observeWorld))

	calOpts := []calibration.Option{
		calibration.WithTimeout(cfg.CalibrationTimeout()),
		calibration.WithMinPairs(cfg.CalibrationMinPairs),
		calibration.WithMaxSamples(cfg.CalibrationMaxSamples),
		calibration.WithObserver(s.observeCalibration),
	}
	s.dumper = nil
	if cfg.CalibrationDumpDir != "" {
		s.dumper = persist.NewDumper(cfg.CalibrationDumpDir)
		calOpts = append(calOpts, calibration.WithDumper(s.dumper))
	}
	s.calibration = calibration.NewManager(s.registry, calOpts...)

	if err := s.listen(); err != nil {
		s.closeListeners()
		s.calibration.Close()
		_ = s.queue.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.group = g
	s.done = done
	s.startedAt = time.Now()
	s.mu.Unlock()

	g.Go(func() error { s.hub.Run(gctx); return nil })
	g.Go(func() error { s.coordinator.Run(gctx); return nil })
	g.Go(func() error { return ignoreClosed(s.stream.Serve(gctx)) })
	g.Go(func() error { return ignoreClosed(s.datagrams.Serve(gctx)) })
	if s.discovery != nil {
		g.Go(func() error { return ignoreClosed(s.discovery.Serve(gctx)) })
	}
	g.Go(func() error {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error { s.pushStates(gctx); return nil })
	g.Go(func() error { s.systemMetrics(gctx); return nil })

	go func() {
		<-gctx.Done()
		close(done)
	}()

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.logger.Info(ctx, "coordinator started",
		logger.String("stream_addr", s.stream.Addr().String()),
		logger.String("datagram_addr", s.datagrams.Addr().String()),
		logger.String("http_addr", s.httpLn.Addr().String()))
	return nil
}

func (s *Service) listen() error {
	cfg := s.cfg
	tOpts := []transport.Option{
		transport.WithHandshakeTimeout(cfg.HandshakeTimeout()),
		transport.WithHeartbeatInterval(cfg.HeartbeatInterval()),
		transport.WithMaxFrameBytes(cfg.MaxFrameBytes),
	}

	s.stream = transport.NewServer(s.registry, s, tOpts...)
	if err := s.stream.Listen(cfg.StreamAddr); err != nil {
		return fmt.Errorf("listen stream %s: %w", cfg.StreamAddr, err)
	}

	dg, err := transport.ListenDatagrams(cfg.DatagramAddr, s.registry, s, tOpts...)
	if err != nil {
		return err
	}
	s.datagrams = dg
	s.registry.SetDatagramWriter(dg)

	if cfg.DiscoveryAddr != "" {
		r, err := discovery.Listen(cfg.DiscoveryAddr, cfg.DiscoveryGroup)
		if err != nil {
			return err
		}
		s.discovery = r
	}

	mux := http.NewServeMux()
	api.NewServer(s, s, s.hub).Register(context.Background(), mux)
	swagger.Register(context.Background(), mux)
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.Addr, err)
	}
	s.httpLn = ln
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return nil
}

func (s *Service) closeListeners() {
	if s.stream != nil {
		_ = s.stream.Close()
	}
	if s.datagrams != nil {
		_ = s.datagrams.Close()
	}
	if s.discovery != nil {
		_ = s.discovery.Close()
	}
	if s.httpLn != nil {
		_ = s.httpLn.Close()
	}
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func ignoreClosed(err error) error {
	if errors.Is(err, transport.ErrServerClosed) || errors.Is(err, discovery.ErrClosed) {
		return nil
	}
	return err
}

// Done is closed when the service stops or one of its endpoints fails.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Stop shuts every component down and waits for them.
func (s *Service) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.isStarted() {
		return nil
	}
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping coordinator")

	// Sessions are aborted first so their stop messages still reach clients.
	s.calibration.Close()
	_ = s.httpServer.Shutdown(ctx)
	if err := s.coordinator.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "coordinator shutdown", logger.Error(err))
	}
	s.cancel()
	err := s.group.Wait()
	s.registry.Close()
	_ = s.queue.Close()

	s.logger.Info(ctx, "coordinator stopped")
	return err
}

// StreamAddr is the bound configuration stream address.
func (s *Service) StreamAddr() string { return s.stream.Addr().String() }

// DatagramAddr is the bound datagram address.
func (s *Service) DatagramAddr() string { return s.datagrams.Addr().String() }

// HTTPAddr is the bound dashboard address.
func (s *Service) HTTPAddr() string { return s.httpLn.Addr().String() }

// DiscoveryAddr is the bound discovery address, or empty when disabled.
func (s *Service) DiscoveryAddr() string {
	if s.discovery == nil {
		return ""
	}
	return s.discovery.Addr().String()
}

// OnConnect announces a new client and sends it the current configuration set.
func (s *Service) OnConnect(ctx context.Context, c *registry.Client) {
	s.hub.Publish(dashboard.ConnectionEstablished(c.ID, c.Remote))
	if err := c.Send(ctx, protocol.ConfigurationSetDown{Set: s.store.Configurations()}); err != nil {
		s.logger.Debug(ctx, "initial configuration set failed", logger.ClientID(c.ID), logger.Error(err))
	}
}

// OnConfigurationUp handles a reliable message from a client.
func (s *Service) OnConfigurationUp(ctx context.Context, id model.ClientID, msg protocol.ConfigurationUp) {
	switch m := msg.(type) {
	case protocol.ConfigurationSnapshotUp:
		if s.store.ApplyConfiguration(id, m.Snapshot) {
			s.logger.Debug(ctx, "configuration changed",
				logger.ClientID(id), logger.Uint64("version", uint64(m.Snapshot.Version)))
			s.broadcastConfigurations(ctx)
		}
	case protocol.CalibrationSampleUp:
		s.calibration.Deliver(ctx, id, m.Sample)
	default:
		s.logger.Warn(ctx, "unexpected stream message", logger.ClientID(id), logger.String("kind", msg.Kind().String()))
	}
}

// OnDatagram handles an authenticated datagram.
func (s *Service) OnDatagram(ctx context.Context, id model.ClientID, msg protocol.DatagramPayload) {
	switch m := msg.(type) {
	case protocol.StateUp:
		s.store.ApplyState(id, m.State)
		s.dirtyMu.Lock()
		s.dirty[id] = struct{}{}
		s.dirtyMu.Unlock()
	case protocol.AppUp:
		if err := s.queue.Enqueue(ctx, m.Command); err != nil {
			s.logger.Debug(ctx, "command rejected",
				logger.ClientID(id), logger.String("command", model.CommandName(m.Command)), logger.Error(err))
		}
	default:
		s.logger.Warn(ctx, "unexpected datagram", logger.ClientID(id), logger.String("kind", msg.Kind().String()))
	}
}

// OnDisconnect forgets a client and tells everyone else.
func (s *Service) OnDisconnect(ctx context.Context, id model.ClientID) {
	s.dirtyMu.Lock()
	delete(s.dirty, id)
	delete(s.announced, id)
	s.dirtyMu.Unlock()

	s.hub.Publish(dashboard.ConnectionClosed(id))
	if s.store.Remove(id) {
		s.broadcastConfigurations(ctx)
	}
}

func (s *Service) broadcastConfigurations(ctx context.Context) {
	set := s.store.Configurations()
	s.registry.Broadcast(ctx, protocol.ConfigurationSetDown{Set: set})
	s.hub.Publish(dashboard.ConfigurationSet(set))
}

// pushStates periodically sends the state set to every client and reports
// changes to dashboards.
func (s *Service) pushStates(ctx context.Context) {
	t := time.NewTicker(s.cfg.StatePushInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.pushOnce()
		}
	}
}

func (s *Service) pushOnce() {
	states := s.store.States()
	if len(states.Clients) > 0 {
		s.registry.BroadcastDatagram(protocol.StateSetDown{Set: states})
	}
	merge := s.store.Merge()

	s.dirtyMu.Lock()
	changed := make([]model.ClientID, 0, len(s.dirty))
	for id := range s.dirty {
		changed = append(changed, id)
	}
	clear(s.dirty)
	var joined []model.ClientID
	for _, id := range merge.Joined {
		if _, seen := s.announced[id]; !seen {
			s.announced[id] = struct{}{}
			joined = append(joined, id)
		}
	}
	s.dirtyMu.Unlock()

	for _, id := range joined {
		s.hub.Publish(dashboard.FullyConnected(id))
	}
	for _, id := range changed {
		if st, ok := states.Clients[id]; ok {
			s.hub.Publish(dashboard.ClientState(id, st))
		}
	}
}

func (s *Service) observeWorld(objects []model.Object) {
	now := time.Now()
	if now.Sub(s.lastWorld) < worldEventInterval {
		return
	}
	s.lastWorld = now
	s.hub.Publish(dashboard.World(objects))
}

func (s *Service) observeCalibration(e calibration.Event) {
	level, msg := "info", fmt.Sprintf("calibration %s: %s", e.SessionID, e.State)
	if e.Err != nil {
		level, msg = "error", fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	s.hub.Publish(dashboard.Log(level, msg))
}

func (s *Service) systemMetrics(ctx context.Context) {
	t := time.NewTicker(systemMetricsInterval)
	defer t.Stop()
	for {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		metrics.UpdateSystemMemoryUsage(ms.HeapAlloc)
		metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// StartCalibration begins a session between two connected clients.
func (s *Service) StartCalibration(ctx context.Context, t model.CalibrationTrigger) (string, error) {
	const op = "service.start_calibration"
	for _, id := range []model.ClientID{t.Target, t.Reference} {
		if _, ok := s.registry.Get(id); !ok {
			return "", api.WrapKind(op, api.ErrNotFound, fmt.Errorf("client %d is not connected", id))
		}
	}
	session, err := s.calibration.Start(t)
	switch {
	case err == nil:
	case errors.Is(err, calibration.ErrSessionActive):
		return "", api.WrapKind(op, api.ErrConflict, err)
	case errors.Is(err, calibration.ErrSameClient), errors.Is(err, calibration.ErrInvalidTrigger):
		return "", api.WrapKind(op, api.ErrBadRequest, err)
	case errors.Is(err, calibration.ErrAborted):
		return "", api.WrapKind(op, api.ErrUnavailable, err)
	default:
		return "", err
	}
	s.logger.Info(ctx, "calibration started", logger.String("session", session.ID()),
		logger.ClientID(t.Target), logger.Uint64("reference", uint64(t.Reference)))
	return session.ID(), nil
}

// ReapplyCalibration recomputes a stored input and pushes the result.
func (s *Service) ReapplyCalibration(ctx context.Context, in model.CalibrationInput) (rigid.Report, error) {
	if _, ok := s.registry.Get(in.Trigger.Target); !ok {
		s.logger.Warn(ctx, "reapplying for a client that is not connected", logger.ClientID(in.Trigger.Target))
	}
	o, err := s.calibration.Reapply(ctx, in)
	return o.Report, err
}

// MoveClients sends a base-space override to each listed client.
func (s *Service) MoveClients(ctx context.Context, moves []dashboard.ClientMove) error {
	const op = "service.move_clients"
	var errs []error
	for _, m := range moves {
		err := s.registry.Send(ctx, m.ID, protocol.SetBaseSpace{Pose: m.Pose})
		switch {
		case err == nil:
		case errors.Is(err, registry.ErrUnknownClient):
			errs = append(errs, api.WrapKind(op, api.ErrNotFound, fmt.Errorf("client %d: %w", m.ID, err)))
		default:
			errs = append(errs, fmt.Errorf("client %d: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}

// FullState is the complete server view.
func (s *Service) FullState(context.Context) dashboard.FullState {
	return dashboard.FullState{
		Configuration: s.store.Configurations(),
		State:         s.store.States(),
		Merged:        s.store.Merged(),
		World:         s.coordinator.Snapshot(),
	}
}

// LoadDump reads a dump from the calibration dump directory. Load failures
// are logged and reported as not found.
func (s *Service) LoadDump(ctx context.Context, name string) (model.CalibrationInput, error) {
	const op = "service.load_dump"
	s.mu.RLock()
	dumper := s.dumper
	s.mu.RUnlock()
	if dumper == nil {
		return model.CalibrationInput{}, api.NewKind(op, api.ErrNotFound)
	}
	in, err := dumper.Open(name)
	switch {
	case err == nil:
		return in, nil
	case errors.Is(err, persist.ErrInvalidName):
		s.logger.Warn(ctx, "refusing dump name", logger.String("name", name), logger.Error(err))
		return model.CalibrationInput{}, api.NewKind(op, api.ErrBadRequest)
	default:
		s.logger.Warn(ctx, "loading dump failed", logger.String("name", name), logger.Error(err))
		return model.CalibrationInput{}, api.NewKind(op, api.ErrNotFound)
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() api.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := api.Stats{Started: s.started}
	if !s.started {
		return stats
	}
	stats.UptimeSeconds = int(time.Since(s.startedAt).Seconds())
	stats.Clients = s.registry.Len()
	stats.ConfiguredClients = s.store.Count()
	stats.MergedClients = len(s.store.Merged())
	stats.WorldObjects = len(s.coordinator.Snapshot())
	stats.CommandQueueLength = s.queue.Len()
	stats.Goroutines = runtime.NumGoroutine()
	if s.dumper != nil {
		stats.DumpDirectory = s.dumper.Dir
	}

	if session, ok := s.calibration.Active(); ok {
		target, reference := session.Progress()
		stats.Calibration = &api.CalibrationProgress{
			SessionID: session.ID(),
			State:     session.State().String(),
			Wanted:    min(session.Trigger().Config.SampleCount, s.cfg.CalibrationMaxSamples),
			Target:    target,
			Reference: reference,
		}
	}
	if last, ok := s.calibration.Last(); ok {
		summary := &api.CalibrationSummary{
			SessionID:     last.SessionID,
			State:         last.State.String(),
			Samples:       last.Report.Samples,
			AcceptedPairs: last.Report.AcceptedPairs,
			RejectedPairs: last.Report.RejectedPairs,
			Error:         last.Failure,
			FinishedAt:    last.FinishedAt,
		}
		if last.DumpPath != "" {
			summary.DumpName = filepath.Base(last.DumpPath)
		}
		stats.LastCalibration = summary
	}
	return stats
}
