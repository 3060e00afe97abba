// Package reconcile merges the versioned configuration set with the
// separately updated state set into a view where every entry's state was
// produced against the configuration it is paired with.
//
// Reconcile is pure: it never mutates its inputs and holds no state, so
// callers may run it on read-only snapshots without locking.
package reconcile

import (
	"sort"

	"github.com/okian/netvr/internal/domain/model"
)

// Stats describes the clients a Reconcile call could not fully synchronise.
type Stats struct {
	// Pending lists clients with a configuration but no merged entry yet.
	Pending []model.ClientID
	// Stale lists clients whose merged configuration is older than the
	// latest one because no state matched it yet.
	Stale []model.ClientID
	// Dropped lists merged entries removed because the client is gone.
	Dropped []model.ClientID
}

// Misses counts clients that will be retried on the next input.
func (s Stats) Misses() int { return len(s.Pending) + len(s.Stale) }

// Reconcile returns the next merged view. See ReconcileStats.
func Reconcile(current model.MergedSet, config model.ConfigurationSnapshotSet, state model.StateSnapshotSet) model.MergedSet {
	out, _ := ReconcileStats(current, config, state)
	return out
}

// ReconcileStats computes the next merged view per client id:
//   - ids absent from config are dropped;
//   - new ids appear only once a state tagged with their version arrives;
//   - a newer configuration is adopted together with a matching state, or
//     alone if the merged state already matches it; otherwise a state
//     matching the old configuration may still refresh the entry.
//
// Configurations with a lower version than the adopted one are ignored.
func ReconcileStats(current model.MergedSet, config model.ConfigurationSnapshotSet, state model.StateSnapshotSet) (model.MergedSet, Stats) {
	var stats Stats
	out := make(model.MergedSet, len(config.Clients))

	for id := range current {
		if _, ok := config.Clients[id]; !ok {
			stats.Dropped = append(stats.Dropped, id)
		}
	}

	for id, cfg := range config.Clients {
		st, hasState := state.Clients[id]
		prev, merged := current[id]

		if !merged {
			if hasState && st.RequiredConfiguration == cfg.Version {
				out[id] = model.MergedClientView{Configuration: cfg, State: st}
			} else {
				stats.Pending = append(stats.Pending, id)
			}
			continue
		}

		adopted := prev.Configuration.Version
		if cfg.Version <= adopted {
			next := prev
			if cfg.Version == adopted {
				next.Configuration = cfg
			}
			if hasState && st.RequiredConfiguration == adopted {
				next.State = st
			}
			out[id] = next
			continue
		}

		switch {
		case hasState && st.RequiredConfiguration == cfg.Version:
			out[id] = model.MergedClientView{Configuration: cfg, State: st}
		case prev.State.RequiredConfiguration == cfg.Version:
			out[id] = model.MergedClientView{Configuration: cfg, State: prev.State}
		case hasState && st.RequiredConfiguration == adopted:
			out[id] = model.MergedClientView{Configuration: prev.Configuration, State: st}
			stats.Stale = append(stats.Stale, id)
		default:
			out[id] = prev
			stats.Stale = append(stats.Stale, id)
		}
	}

	sortIDs(stats.Pending)
	sortIDs(stats.Stale)
	sortIDs(stats.Dropped)
	return out, stats
}

func sortIDs(ids []model.ClientID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
