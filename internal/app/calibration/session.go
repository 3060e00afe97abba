// Package calibration runs calibration sessions: it instructs two clients to
// sample, collects their samples under a deadline, persists the raw input
// and pushes the computed transform to the target client.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/netvr/internal/adapters/protocol"
	rigid "github.com/okian/netvr/internal/domain/calibration"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
)

// Trigger starts a session.
type Trigger = model.CalibrationTrigger

// Input is a complete set of collected samples.
type Input = model.CalibrationInput

// Messenger delivers reliable messages to clients.
type Messenger interface {
	Send(ctx context.Context, id model.ClientID, msg protocol.ConfigurationDown) error
}

// Dumper persists a session's raw input before computation.
type Dumper interface {
	Dump(ctx context.Context, in Input) (string, error)
}

// Event reports a session state transition.
type Event struct {
	SessionID string
	State     State
	Err       error
}

// Outcome is the final result of a session.
type Outcome struct {
	SessionID  string       `json:"session_id"`
	Trigger    Trigger      `json:"trigger"`
	State      State        `json:"state"`
	Report     rigid.Report `json:"report"`
	DumpPath   string       `json:"dump_path,omitempty"`
	Failure    string       `json:"error,omitempty"`
	Err        error        `json:"-"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

const stopSendTimeout = 2 * time.Second

type delivery struct {
	from   model.ClientID
	sample model.CalibrationSample
}

// Session drives one calibration between a target and a reference client.
type Session struct {
	id        string
	trigger   Trigger
	messenger Messenger
	dumper    Dumper
	timeout   time.Duration
	rigidOpts []rigid.Option
	observe   func(Event)
	release   func(*Session, Outcome)
	logger    logger.Logger

	samples chan delivery
	done    chan struct{}

	mu        sync.RWMutex
	state     State
	target    []model.CalibrationSample
	reference []model.CalibrationSample
	outcome   Outcome
}

func newSession(t Trigger, m *Manager) *Session {
	id := uuid.NewString()
	want := min(t.Config.SampleCount, m.maxSamples)
	return &Session{
		id:        id,
		trigger:   t,
		messenger: m.messenger,
		dumper:    m.dumper,
		timeout:   m.timeout,
		rigidOpts: m.rigidOpts,
		observe:   m.observe,
		release:   m.finished,
		logger:    m.logger.With(logger.String("session", id)),
		samples:   make(chan delivery, 2*want+16),
		done:      make(chan struct{}),
		target:    make([]model.CalibrationSample, 0, want),
		reference: make([]model.CalibrationSample, 0, want),
	}
}

// ID is the session's unique id.
func (s *Session) ID() string { return s.id }

// Trigger returns what started the session.
func (s *Session) Trigger() Trigger { return s.trigger }

// State is the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Progress returns how many samples each side has contributed.
func (s *Session) Progress() (target, reference int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.target), len(s.reference)
}

// Done is closed when the session reaches Finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.outcome, s.outcome.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Deliver hands a sample to the session. Samples from clients other than
// the target and reference are ignored.
func (s *Session) Deliver(ctx context.Context, from model.ClientID, sample model.CalibrationSample) error {
	if from != s.trigger.Target && from != s.trigger.Reference {
		return nil
	}
	select {
	case s.samples <- delivery{from: from, sample: sample}:
		return nil
	case <-s.done:
		return ErrNotCollecting
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Debug(context.Background(), "calibration state", logger.String("state", st.String()))
	if s.observe != nil {
		s.observe(Event{SessionID: s.id, State: st, Err: err})
	}
}

func (s *Session) finish(o Outcome) Outcome {
	o.SessionID = s.id
	o.Trigger = s.trigger
	o.FinishedAt = time.Now()
	if o.Err != nil {
		o.Failure = o.Err.Error()
	}
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
	s.setState(Finished, o.Err)
	if s.release != nil {
		s.release(s, o)
	}
	close(s.done)
	return o
}

// run executes the whole state machine. ctx cancellation aborts collection.
func (s *Session) run(ctx context.Context) Outcome {
	started := time.Now()
	t := s.trigger

	s.setState(TriggerSent, nil)
	if err := s.begin(ctx); err != nil {
		return s.finish(Outcome{State: TriggerSent, Err: err, StartedAt: started})
	}

	s.setState(Collecting, nil)
	final, err := s.collect(ctx)
	if final != Finished {
		s.setState(final, err)
	}
	s.stop(ctx, t.Target, t.Reference)
	if err != nil {
		return s.finish(Outcome{State: final, Err: err, StartedAt: started})
	}

	s.mu.RLock()
	in := Input{
		SessionID: s.id,
		CreatedAt: started.UTC(),
		Trigger:   t,
		Target:    append([]model.CalibrationSample(nil), s.target...),
		Reference: append([]model.CalibrationSample(nil), s.reference...),
	}
	s.mu.RUnlock()

	o := Outcome{State: Completed, StartedAt: started}
	if s.dumper != nil {
		path, derr := s.dumper.Dump(ctx, in)
		if derr != nil {
			s.logger.Error(ctx, "calibration dump failed", logger.Error(derr))
		}
		o.DumpPath = path
	}

	report, cerr := compute(in, s.rigidOpts)
	o.Report = report
	if cerr != nil {
		o.Err = cerr
		s.logger.Error(ctx, "calibration failed", logger.Error(cerr), logger.Int("accepted_pairs", report.AcceptedPairs))
		return s.finish(o)
	}
	push(ctx, s.messenger, s.logger, t.Target, report.Result)
	return s.finish(o)
}

// begin sends the start instruction to both clients. If the second send
// fails the first client is told to stop again.
func (s *Session) begin(ctx context.Context) error {
	t := s.trigger
	if err := s.messenger.Send(ctx, t.Target, protocol.BeginCalibration{SubactionPath: t.TargetSubactionPath, Config: t.Config}); err != nil {
		s.logger.Warn(ctx, "begin calibration failed", logger.ClientID(t.Target), logger.Error(err))
		return fmt.Errorf("%w: target %d: %w", ErrTriggerFailed, t.Target, err)
	}
	if err := s.messenger.Send(ctx, t.Reference, protocol.BeginCalibration{SubactionPath: t.ReferenceSubactionPath, Config: t.Config}); err != nil {
		s.logger.Warn(ctx, "begin calibration failed", logger.ClientID(t.Reference), logger.Error(err))
		s.stop(ctx, t.Target)
		return fmt.Errorf("%w: reference %d: %w", ErrTriggerFailed, t.Reference, err)
	}
	return nil
}

// collect gathers samples until both sides have SampleCount, the timeout
// expires or ctx is cancelled.
func (s *Session) collect(ctx context.Context) (State, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	want := s.trigger.Config.SampleCount
	for {
		select {
		case <-ctx.Done():
			return Finished, ErrAborted
		case <-timer.C:
			tc, rc := s.Progress()
			s.logger.Warn(ctx, "calibration timed out",
				logger.Int("target_samples", tc), logger.Int("reference_samples", rc), logger.Int("want", want))
			return TimedOut, fmt.Errorf("%w after %s: target %d/%d, reference %d/%d", ErrTimedOut, s.timeout, tc, want, rc, want)
		case d := <-s.samples:
			s.mu.Lock()
			if d.from == s.trigger.Target && len(s.target) < want {
				s.target = append(s.target, d.sample)
			} else if d.from == s.trigger.Reference && len(s.reference) < want {
				s.reference = append(s.reference, d.sample)
			}
			full := len(s.target) >= want && len(s.reference) >= want
			s.mu.Unlock()
			if full {
				return Completed, nil
			}
		}
	}
}

// stop sends StopCalibration to each id. Failures are logged only, and the
// sends outlive ctx cancellation.
func (s *Session) stop(ctx context.Context, ids ...model.ClientID) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopSendTimeout)
	defer cancel()
	for _, id := range ids {
		if err := s.messenger.Send(sctx, id, protocol.StopCalibration{}); err != nil {
			s.logger.Warn(sctx, "stop calibration failed", logger.ClientID(id), logger.Error(err))
		}
	}
}

func compute(in Input, opts []rigid.Option) (rigid.Report, error) {
	report, err := rigid.Compute(in.Target, in.Reference, opts...)
	if err != nil {
		return report, fmt.Errorf("compute calibration: %w", err)
	}
	return report, nil
}

// push sends the result to the target as its new base space. A target that
// went away meanwhile only produces a warning.
func push(ctx context.Context, m Messenger, l logger.Logger, target model.ClientID, r model.CalibrationResult) {
	if m == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopSendTimeout)
	defer cancel()
	if err := m.Send(sctx, target, protocol.SetBaseSpace{Pose: r.Pose()}); err != nil {
		l.Warn(sctx, "pushing calibration result failed", logger.ClientID(target), logger.Error(err))
		return
	}
	l.Info(sctx, "calibration result pushed", logger.ClientID(target),
		logger.Any("translation", r.Translation), logger.Any("rotation", r.Rotation))
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.Err == nil:
		return "completed"
	case errors.Is(o.Err, ErrTimedOut):
		return "timed_out"
	case errors.Is(o.Err, ErrAborted):
		return "aborted"
	case errors.Is(o.Err, ErrTriggerFailed):
		return "trigger_failed"
	default:
		return "compute_failed"
	}
}
