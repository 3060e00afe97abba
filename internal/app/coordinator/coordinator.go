// Package coordinator owns the shared world state. A single goroutine
// applies commands and broadcasts the world on a fixed tick, so the state
// needs no locking beyond the read path used by Snapshot.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

const (
	defaultTickInterval = 20 * time.Millisecond
	releaseSendTimeout  = time.Second
)

// Source yields commands until closed.
type Source interface {
	Commands() <-chan model.Command
}

// Outbound is how the coordinator reaches clients.
type Outbound interface {
	Send(ctx context.Context, id model.ClientID, msg protocol.ConfigurationDown) error
	BroadcastDatagram(msg protocol.DatagramDown)
}

// Coordinator is the single-writer world actor.
type Coordinator struct {
	source  Source
	out     Outbound
	tick    time.Duration
	observe func([]model.Object)
	logger  logger.Logger

	mu      sync.RWMutex
	objects []model.Object

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	sends        sync.WaitGroup
}

// New creates a coordinator reading from source and writing to out.
func New(source Source, out Outbound, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:   source,
		out:      out,
		tick:     defaultTickInterval,
		logger:   logger.Get().Named("coordinator"),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes one command or one tick per iteration until ctx is done,
// Shutdown is called or the source closes.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	commands := c.source.Commands()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			c.handle(ctx, cmd)
		case <-ticker.C:
			c.broadcast()
		}
	}
}

// Shutdown stops the loop and waits for it and any release notifications.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
	select {
	case <-c.done:
	case <-ctx.Done():
		c.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
	c.sends.Wait()
	return nil
}

// Snapshot returns a copy of the world.
func (c *Coordinator) Snapshot() []model.Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Object(nil), c.objects...)
}

func (c *Coordinator) handle(ctx context.Context, cmd model.Command) {
	c.mu.Lock()
	released, ok := c.apply(ctx, cmd)
	n := len(c.objects)
	c.mu.Unlock()

	metrics.UpdateWorldObjects(n)
	if ok && released.owner != 0 {
		c.notifyReleased(ctx, released)
	}
}

type release struct {
	owner  model.ClientID
	object model.ObjectID
}

// apply mutates the world under c.mu. It returns the previous owner when a
// grab took an object away from someone.
func (c *Coordinator) apply(ctx context.Context, cmd model.Command) (release, bool) {
	switch cmd := cmd.(type) {
	case model.SetPose:
		obj, ok := c.object(ctx, cmd.Object, cmd)
		if !ok {
			return release{}, false
		}
		if obj.Owner != cmd.Client {
			c.logger.Debug(ctx, "ignoring pose from non-owner",
				logger.ClientID(cmd.Client), logger.Int("object", int(cmd.Object)), logger.ClientID(obj.Owner))
			return release{}, false
		}
		obj.Pose = cmd.Pose
	case model.Init:
		if len(c.objects) > 0 {
			c.logger.Debug(ctx, "ignoring init on populated world", logger.ClientID(cmd.Client))
			return release{}, false
		}
		c.objects = make([]model.Object, len(cmd.Objects))
		for i, p := range cmd.Objects {
			c.objects[i] = model.Object{ID: model.ObjectID(i), Owner: cmd.Client, Pose: p}
		}
		c.logger.Info(ctx, "world initialised", logger.ClientID(cmd.Client), logger.Int("objects", len(cmd.Objects)))
	case model.Grab:
		obj, ok := c.object(ctx, cmd.Object, cmd)
		if !ok || obj.Owner == cmd.Client {
			return release{}, false
		}
		prev := obj.Owner
		obj.Owner = cmd.Client
		metrics.RecordObjectGrab()
		return release{owner: prev, object: cmd.Object}, true
	case model.Reset:
		c.objects = nil
		c.logger.Info(ctx, "world reset", logger.ClientID(cmd.Client))
	default:
		c.logger.Warn(ctx, "unknown command", logger.String("type", fmt.Sprintf("%T", cmd)))
	}
	return release{}, false
}

func (c *Coordinator) object(ctx context.Context, id model.ObjectID, cmd model.Command) (*model.Object, bool) {
	if int(id) >= len(c.objects) {
		c.logger.Debug(ctx, "ignoring command for unknown object",
			logger.String("command", model.CommandName(cmd)), logger.ClientID(cmd.Sender()), logger.Int("object", int(id)))
		return nil, false
	}
	return &c.objects[id], true
}

// notifyReleased tells the previous owner off the loop goroutine so a slow
// client cannot stall the tick.
func (c *Coordinator) notifyReleased(ctx context.Context, r release) {
	c.sends.Add(1)
	go func() {
		defer c.sends.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseSendTimeout)
		defer cancel()
		if err := c.out.Send(sctx, r.owner, protocol.ObjectReleased{ObjectID: r.object}); err != nil {
			c.logger.Warn(sctx, "release notification failed",
				logger.ClientID(r.owner), logger.Int("object", int(r.object)), logger.Error(err))
		}
	}()
}

func (c *Coordinator) broadcast() {
	start := time.Now()
	objects := c.Snapshot()
	c.out.BroadcastDatagram(protocol.WorldDown{Objects: objects})
	if c.observe != nil {
		c.observe(objects)
	}
	metrics.RecordTickLatency(float64(time.Since(start).Microseconds()) / 1000)
}
