// Package repository holds the coordinator's shared snapshot aggregates:
// the latest configuration and state per client and the merged view built
// from them.
package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/internal/domain/reconcile"
	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

// Store provides read/write access to the snapshot aggregates.
type Store interface {
	// ApplyConfiguration stores a client's configuration and reports whether
	// the configuration set changed.
	ApplyConfiguration(id model.ClientID, snap model.ConfigurationSnapshot) bool
	// ApplyState stores a client's latest state. The last write wins.
	ApplyState(id model.ClientID, st model.StateSnapshot)
	// Remove forgets a client everywhere.
	Remove(id model.ClientID) bool

	Configuration(id model.ClientID) (model.ConfigurationSnapshot, error)
	Configurations() model.ConfigurationSnapshotSet
	States() model.StateSnapshotSet
	// Merge reconciles the current sets against the previous merged view.
	Merge() Merge
	Merged() model.MergedSet
	Count() int
}

// Merge is the outcome of one reconciliation round.
type Merge struct {
	View  model.MergedSet
	Stats reconcile.Stats
	// Joined lists clients that got their first merged entry this round.
	Joined []model.ClientID
}

// SnapshotStore is the in-memory Store. Reads return deep copies and no lock
// is held while reconciling.
type SnapshotStore struct {
	mu     sync.RWMutex
	config model.ConfigurationSnapshotSet
	state  model.StateSnapshotSet
	merged model.MergedSet

	// mergeMu serialises Merge so rounds are stored in order.
	mergeMu sync.Mutex

	logger logger.Logger
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore(opts ...Option) *SnapshotStore {
	s := &SnapshotStore{
		config: model.NewConfigurationSnapshotSet(),
		state:  model.NewStateSnapshotSet(),
		merged: model.MergedSet{},
		logger: logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SnapshotStore) ApplyConfiguration(id model.ClientID, snap model.ConfigurationSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.config.Clients[id]
	s.config.Clients[id] = snap.Clone()
	changed := !ok || prev.Version != snap.Version
	if changed {
		metrics.RecordConfigurationUpdate()
	}
	return changed
}

func (s *SnapshotStore) ApplyState(id model.ClientID, st model.StateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Clients[id] = st.Clone()
	s.state.Order++
}

func (s *SnapshotStore) Remove(id model.ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.config.Clients[id]
	delete(s.config.Clients, id)
	delete(s.state.Clients, id)
	delete(s.merged, id)
	if ok {
		s.state.Order++
	}
	return ok
}

func (s *SnapshotStore) Configuration(id model.ClientID) (model.ConfigurationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.config.Clients[id]
	if !ok {
		return model.ConfigurationSnapshot{}, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *SnapshotStore) Configurations() model.ConfigurationSnapshotSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Clone()
}

func (s *SnapshotStore) States() model.StateSnapshotSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *SnapshotStore) Merged() model.MergedSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merged.Clone()
}

func (s *SnapshotStore) Merge() Merge {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	s.mu.RLock()
	config, state, prev := s.config.Clone(), s.state.Clone(), s.merged.Clone()
	s.mu.RUnlock()

	next, stats := reconcile.ReconcileStats(prev, config, state)

	var joined []model.ClientID
	for id := range next {
		if _, ok := prev[id]; !ok {
			joined = append(joined, id)
		}
	}
	sort.Slice(joined, func(i, j int) bool { return joined[i] < joined[j] })

	s.mu.Lock()
	// Clients removed while reconciling stay removed.
	for id := range next {
		if _, ok := s.config.Clients[id]; !ok {
			delete(next, id)
		}
	}
	s.merged = next
	s.mu.Unlock()

	metrics.UpdateMergedClients(len(next))
	metrics.RecordReconcileMisses(stats.Misses())
	if stats.Misses() > 0 {
		s.logger.Debug(context.Background(), "reconcile left clients unsynchronised",
			logger.Any("pending", stats.Pending), logger.Any("stale", stats.Stale))
	}
	return Merge{View: next.Clone(), Stats: stats, Joined: joined}
}

func (s *SnapshotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.config.Clients)
}
