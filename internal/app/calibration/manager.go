package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	rigid "github.com/okian/netvr/internal/domain/calibration"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

// DefaultTimeout bounds sample collection.
const DefaultTimeout = 60 * time.Second

// DefaultMaxSamples caps sample_count per side.
const DefaultMaxSamples = 10_000

// Manager runs at most one session at a time and routes samples to it.
type Manager struct {
	messenger Messenger
	dumper    Dumper
	timeout    time.Duration
	maxSamples int
	rigidOpts  []rigid.Option
	observe   func(Event)
	logger    logger.Logger

	// base outlives the requests that start sessions. Close cancels it.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	active *Session
	last   *Outcome
}

// NewManager creates a manager sending instructions through messenger.
func NewManager(messenger Messenger, opts ...Option) *Manager {
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		messenger: messenger,
		timeout:    DefaultTimeout,
		maxSamples: DefaultMaxSamples,
		logger:     logger.Get().Named("calibration"),
		base:      base,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validate checks a trigger before a session is started for it.
// sample_count must lie in [1, maxSamples].
func Validate(t Trigger, maxSamples int) error {
	if t.Target == t.Reference {
		return ErrSameClient
	}
	if t.Target == 0 || t.Reference == 0 {
		return fmt.Errorf("%w: client ids must be set", ErrInvalidTrigger)
	}
	if t.Config.SampleCount <= 0 {
		return fmt.Errorf("%w: sample_count must be positive", ErrInvalidTrigger)
	}
	if t.Config.SampleCount > maxSamples {
		return fmt.Errorf("%w: sample_count %d exceeds %d", ErrInvalidTrigger, t.Config.SampleCount, maxSamples)
	}
	return nil
}

// Start begins a session in the background. It fails with ErrSessionActive
// while another session runs.
func (m *Manager) Start(t Trigger) (*Session, error) {
	if err := Validate(t, m.maxSamples); err != nil {
		return nil, err
	}
	if m.base.Err() != nil {
		return nil, ErrAborted
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := newSession(t, m)
	m.active = s
	m.mu.Unlock()

	m.logger.Info(m.base, "calibration started",
		logger.String("session", s.id), logger.ClientID(t.Target),
		logger.Uint64("reference", uint64(t.Reference)), logger.Int("sample_count", t.Config.SampleCount))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run(m.base)
	}()
	return s, nil
}

// finished runs before the session's Done channel closes, so a new session
// may start as soon as Wait returns.
func (m *Manager) finished(s *Session, o Outcome) {
	m.record(o)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
	m.last = &o
}

// Active returns the running session, if any.
func (m *Manager) Active() (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, m.active != nil
}

// Last returns the outcome of the most recent finished session or reapply.
func (m *Manager) Last() (Outcome, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Outcome{}, false
	}
	return *m.last, true
}

// Deliver routes a sample to the active session. Without one the sample is
// dropped.
func (m *Manager) Deliver(ctx context.Context, from model.ClientID, sample model.CalibrationSample) {
	s, ok := m.Active()
	if !ok {
		m.logger.Debug(ctx, "dropping sample outside calibration", logger.ClientID(from))
		return
	}
	if err := s.Deliver(ctx, from, sample); err != nil {
		m.logger.Debug(ctx, "dropping sample", logger.ClientID(from), logger.Error(err))
	}
}

// Reapply recomputes a saved input and pushes the result to its target
// without collecting again.
func (m *Manager) Reapply(ctx context.Context, in Input) (Outcome, error) {
	o := Replay(in, m.rigidOpts...)
	if o.Err == nil {
		push(ctx, m.messenger, m.logger, in.Trigger.Target, o.Report.Result)
	} else {
		m.logger.Error(ctx, "reapply failed", logger.String("session", in.SessionID), logger.Error(o.Err))
	}
	m.record(o)

	m.mu.Lock()
	m.last = &o
	m.mu.Unlock()
	if m.observe != nil {
		m.observe(Event{SessionID: o.SessionID, State: Finished, Err: o.Err})
	}
	return o, o.Err
}

// Close aborts the active session and waits for it to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) record(o Outcome) {
	metrics.RecordCalibration(outcomeLabel(o), o.FinishedAt.Sub(o.StartedAt).Seconds())
	if o.Report.AcceptedPairs > 0 || o.Err == nil {
		metrics.RecordCalibrationPairs(o.Report.AcceptedPairs)
	}
}

// Replay computes the transform for a saved input. It performs no I/O.
func Replay(in Input, opts ...rigid.Option) Outcome {
	o := Outcome{
		SessionID: in.SessionID,
		Trigger:   in.Trigger,
		StartedAt: time.Now(),
	}
	o.Report, o.Err = compute(in, opts)
	o.State = Finished
	o.FinishedAt = time.Now()
	if o.Err != nil {
		o.Failure = o.Err.Error()
	}
	return o
}
