// Package dashboard fans coordinator events out to operator dashboards and
// parses the commands they send back.
package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
)

// Event types pushed to dashboards.
const (
	TypeConnectionEstablished = "connection_established"
	TypeConnectionClosed      = "connection_closed"
	TypeFullyConnected        = "fully_connected"
	TypeClientState           = "client_state"
	TypeConfigurationSet      = "configuration_set"
	TypeWorld                 = "world"
	TypeLog                   = "log"
	TypeFullState             = "full_state"
)

// Event is one JSON message to a dashboard. Only the fields of its type are set.
type Event struct {
	Type    string                          `json:"type"`
	ID      model.ClientID                  `json:"id,omitempty"`
	Remote  string                          `json:"remote,omitempty"`
	State   *model.StateSnapshot            `json:"state,omitempty"`
	Set     *model.ConfigurationSnapshotSet `json:"set,omitempty"`
	Objects []model.Object                  `json:"objects,omitempty"`
	Level   string                          `json:"level,omitempty"`
	Message string                          `json:"message,omitempty"`
	Full    *FullState                      `json:"full,omitempty"`
}

// FullState is the complete server view sent on request.
type FullState struct {
	Configuration model.ConfigurationSnapshotSet `json:"configuration"`
	State         model.StateSnapshotSet         `json:"state"`
	Merged        model.MergedSet                `json:"merged"`
	World         []model.Object                 `json:"world"`
}

func ConnectionEstablished(id model.ClientID, remote string) Event {
	return Event{Type: TypeConnectionEstablished, ID: id, Remote: remote}
}

func ConnectionClosed(id model.ClientID) Event {
	return Event{Type: TypeConnectionClosed, ID: id}
}

func FullyConnected(id model.ClientID) Event {
	return Event{Type: TypeFullyConnected, ID: id}
}

func ClientState(id model.ClientID, s model.StateSnapshot) Event {
	return Event{Type: TypeClientState, ID: id, State: &s}
}

func ConfigurationSet(set model.ConfigurationSnapshotSet) Event {
	return Event{Type: TypeConfigurationSet, Set: &set}
}

// World always carries an objects array, empty included.
func World(objects []model.Object) Event {
	if objects == nil {
		objects = []model.Object{}
	}
	return Event{Type: TypeWorld, Objects: objects}
}

func Log(level, message string) Event {
	return Event{Type: TypeLog, Level: level, Message: message}
}

func Full(f FullState) Event {
	return Event{Type: TypeFullState, Full: &f}
}

// Command types accepted from dashboards.
const (
	CommandKeepAlive           = "keep_alive"
	CommandRequestFullSnapshot = "request_full_snapshot"
	CommandMoveClients         = "move_clients"
)

// ErrUnknownCommand is returned by ParseCommand for an unrecognised type.
var ErrUnknownCommand = errors.New("dashboard: unknown command")

// ClientMove places one client's base space.
type ClientMove struct {
	ID   model.ClientID `json:"id"`
	Pose geometry.Pose  `json:"pose"`
}

// Command is one operator message.
type Command struct {
	Type    string       `json:"type"`
	Clients []ClientMove `json:"clients,omitempty"`
}

// ParseCommand decodes and validates an operator message.
func ParseCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("decode dashboard command: %w", err)
	}
	switch c.Type {
	case CommandKeepAlive, CommandRequestFullSnapshot:
		return c, nil
	case CommandMoveClients:
		for _, m := range c.Clients {
			if m.ID == 0 {
				return c, fmt.Errorf("decode dashboard command: move_clients entry without id")
			}
		}
		return c, nil
	default:
		return c, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
}
