package model

import "github.com/okian/netvr/internal/domain/geometry"

// ObjectID indexes an object in the shared world.
type ObjectID uint32

// Object is an ownable item in the shared world. Only the owner may move it.
type Object struct {
	ID    ObjectID      `json:"id"`
	Owner ClientID      `json:"owner"`
	Pose  geometry.Pose `json:"pose"`
}

// Command is an application-level request processed by the coordinator.
// The set of commands is closed; handlers switch over every variant.
type Command interface {
	Sender() ClientID
	command()
}

// SetPose moves an object owned by Client.
type SetPose struct {
	Client ClientID      `json:"client"`
	Object ObjectID      `json:"object"`
	Pose   geometry.Pose `json:"pose"`
}

// Init seeds an empty world with objects owned by Client.
type Init struct {
	Client  ClientID        `json:"client"`
	Objects []geometry.Pose `json:"objects"`
}

// Grab transfers ownership of an object to Client.
type Grab struct {
	Client ClientID `json:"client"`
	Object ObjectID `json:"object"`
}

// Reset clears the world.
type Reset struct {
	Client ClientID `json:"client"`
}

func (c SetPose) Sender() ClientID { return c.Client }
func (c Init) Sender() ClientID    { return c.Client }
func (c Grab) Sender() ClientID    { return c.Client }
func (c Reset) Sender() ClientID   { return c.Client }

func (SetPose) command() {}
func (Init) command()    {}
func (Grab) command()    {}
func (Reset) command()   {}

// CommandName is a stable label for logs and metrics.
func CommandName(c Command) string {
	switch c.(type) {
	case SetPose:
		return "set_pose"
	case Init:
		return "init"
	case Grab:
		return "grab"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}
