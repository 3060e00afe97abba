// Package model contains the domain models passed between layers: snapshots
// exchanged by devices, the merged view, calibration inputs and world state.
package model

import (
	"fmt"
	"strings"

	"github.com/okian/netvr/internal/domain/geometry"
)

// ClientID identifies a live connection. Ids are reused only after the
// previous holder has been removed from the registry.
type ClientID uint32

// BindingType is the value kind of an interaction-profile binding.
type BindingType uint8

const (
	BindingUnknown BindingType = iota
	BindingBoolean
	BindingFloat
	BindingVector2
	BindingPose
	BindingVibration
)

var bindingTypeNames = [...]string{"unknown", "boolean", "float", "vector2", "pose", "vibration"}

func (t BindingType) String() string {
	if int(t) < len(bindingTypeNames) {
		return bindingTypeNames[t]
	}
	return fmt.Sprintf("binding(%d)", uint8(t))
}

// MarshalText renders the type name for JSON consumers such as the dashboard.
func (t BindingType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText parses a type name. Unrecognised names map to BindingUnknown.
func (t *BindingType) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range bindingTypeNames {
		if n == name {
			*t = BindingType(i)
			return nil
		}
	}
	*t = BindingUnknown
	return nil
}

// InteractionProfileBinding is one input bound within an interaction profile.
type InteractionProfileBinding struct {
	Type          BindingType `json:"type"`
	Name          string      `json:"name"`
	LocalizedName string      `json:"localized_name"`
	Path          string      `json:"path"`
}

// InteractionProfile groups the bindings of one interaction-profile path.
type InteractionProfile struct {
	Path     string                      `json:"path"`
	Bindings []InteractionProfileBinding `json:"bindings"`
}

// ConfigurationSnapshot describes a device's input-binding layout. Version
// increases every time the layout changes.
type ConfigurationSnapshot struct {
	Version             uint32               `json:"version"`
	Name                string               `json:"name"`
	UserPaths           []string             `json:"user_paths"`
	InteractionProfiles []InteractionProfile `json:"interaction_profiles"`
}

// Clone returns a deep copy.
func (c ConfigurationSnapshot) Clone() ConfigurationSnapshot {
	out := c
	if c.UserPaths != nil {
		out.UserPaths = append([]string(nil), c.UserPaths...)
	}
	if c.InteractionProfiles != nil {
		out.InteractionProfiles = make([]InteractionProfile, len(c.InteractionProfiles))
		for i, p := range c.InteractionProfiles {
			out.InteractionProfiles[i] = InteractionProfile{
				Path:     p.Path,
				Bindings: append([]InteractionProfileBinding(nil), p.Bindings...),
			}
		}
	}
	return out
}

// ControllerState is the pose of one controller. InteractionProfile and
// UserPath index into the configuration the state was produced against.
type ControllerState struct {
	InteractionProfile uint32        `json:"interaction_profile"`
	UserPath           uint32        `json:"user_path"`
	Pose               geometry.Pose `json:"pose"`
}

// StateSnapshot is the live pose data of a device. RequiredConfiguration is
// the configuration version the indices above refer to.
type StateSnapshot struct {
	Controllers           []ControllerState `json:"controllers"`
	View                  geometry.Pose     `json:"view"`
	RequiredConfiguration uint32            `json:"required_configuration"`
}

// Clone returns a deep copy.
func (s StateSnapshot) Clone() StateSnapshot {
	out := s
	if s.Controllers != nil {
		out.Controllers = append([]ControllerState(nil), s.Controllers...)
	}
	return out
}

// ConfigurationSnapshotSet is the authoritative set of known clients and
// their configurations.
type ConfigurationSnapshotSet struct {
	Clients map[ClientID]ConfigurationSnapshot `json:"clients"`
}

// NewConfigurationSnapshotSet returns an empty set.
func NewConfigurationSnapshotSet() ConfigurationSnapshotSet {
	return ConfigurationSnapshotSet{Clients: map[ClientID]ConfigurationSnapshot{}}
}

// Clone returns a deep copy.
func (s ConfigurationSnapshotSet) Clone() ConfigurationSnapshotSet {
	out := ConfigurationSnapshotSet{Clients: make(map[ClientID]ConfigurationSnapshot, len(s.Clients))}
	for id, c := range s.Clients {
		out.Clients[id] = c.Clone()
	}
	return out
}

// StateSnapshotSet holds the latest state per client. Order increases on
// every applied state and lets observers detect change cheaply.
type StateSnapshotSet struct {
	Order   uint64                     `json:"order"`
	Clients map[ClientID]StateSnapshot `json:"clients"`
}

// NewStateSnapshotSet returns an empty set.
func NewStateSnapshotSet() StateSnapshotSet {
	return StateSnapshotSet{Clients: map[ClientID]StateSnapshot{}}
}

// Clone returns a deep copy.
func (s StateSnapshotSet) Clone() StateSnapshotSet {
	out := StateSnapshotSet{Order: s.Order, Clients: make(map[ClientID]StateSnapshot, len(s.Clients))}
	for id, st := range s.Clients {
		out.Clients[id] = st.Clone()
	}
	return out
}

// MergedClientView pairs a configuration with a state produced under it.
// State.RequiredConfiguration always equals Configuration.Version.
type MergedClientView struct {
	Configuration ConfigurationSnapshot `json:"configuration"`
	State         StateSnapshot         `json:"state"`
}

// Consistent reports whether the state was produced against the configuration.
func (v MergedClientView) Consistent() bool {
	return v.State.RequiredConfiguration == v.Configuration.Version
}

// MergedSet is the consistency-checked view of every client.
type MergedSet map[ClientID]MergedClientView

// Clone returns a deep copy.
func (m MergedSet) Clone() MergedSet {
	out := make(MergedSet, len(m))
	for id, v := range m {
		out[id] = MergedClientView{Configuration: v.Configuration.Clone(), State: v.State.Clone()}
	}
	return out
}
