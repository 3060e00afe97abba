package model_test

import (
	"encoding/json"
	"testing"

	"github.com/okian/netvr/internal/domain/geometry"
	model "github.com/okian/netvr/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func sampleConfig() model.ConfigurationSnapshot {
	return model.ConfigurationSnapshot{
		Version:   3,
		Name:      "quest",
		UserPaths: []string{"/user/hand/left", "/user/hand/right"},
		InteractionProfiles: []model.InteractionProfile{{
			Path: "/interaction_profiles/oculus/touch_controller",
			Bindings: []model.InteractionProfileBinding{
				{Type: model.BindingPose, Name: "grip", Path: "/user/hand/left/input/grip/pose"},
			},
		}},
	}
}

func TestConfigurationSnapshotClone(t *testing.T) {
	convey.Convey("Given a configuration snapshot", t, func() {
		cfg := sampleConfig()

		convey.Convey("When it is cloned and the clone is mutated", func() {
			cp := cfg.Clone()
			cp.UserPaths[0] = "/user/head"
			cp.InteractionProfiles[0].Bindings[0].Name = "aim"

			convey.Convey("Then the original is untouched", func() {
				convey.So(cfg.UserPaths[0], convey.ShouldEqual, "/user/hand/left")
				convey.So(cfg.InteractionProfiles[0].Bindings[0].Name, convey.ShouldEqual, "grip")
				convey.So(cp.Version, convey.ShouldEqual, cfg.Version)
			})
		})
	})
}

func TestSnapshotSetsClone(t *testing.T) {
	convey.Convey("Given populated snapshot sets", t, func() {
		cs := model.NewConfigurationSnapshotSet()
		cs.Clients[1] = sampleConfig()
		ss := model.NewStateSnapshotSet()
		ss.Order = 9
		ss.Clients[1] = model.StateSnapshot{
			Controllers:           []model.ControllerState{{Pose: geometry.IdentityPose()}},
			RequiredConfiguration: 3,
		}

		convey.Convey("Then clones are independent", func() {
			csc, ssc := cs.Clone(), ss.Clone()
			delete(csc.Clients, 1)
			ssc.Clients[1].Controllers[0].Pose.Position.X = 4

			convey.So(cs.Clients, convey.ShouldContainKey, model.ClientID(1))
			convey.So(ss.Clients[1].Controllers[0].Pose.Position.X, convey.ShouldEqual, 0)
			convey.So(ssc.Order, convey.ShouldEqual, 9)
		})

		convey.Convey("Then a merged view built from them is consistent", func() {
			view := model.MergedClientView{Configuration: cs.Clients[1], State: ss.Clients[1]}
			convey.So(view.Consistent(), convey.ShouldBeTrue)
			view.State.RequiredConfiguration = 2
			convey.So(view.Consistent(), convey.ShouldBeFalse)
		})
	})
}

func TestBindingTypeText(t *testing.T) {
	convey.Convey("Given binding types", t, func() {
		convey.So(model.BindingVector2.String(), convey.ShouldEqual, "vector2")
		convey.So(model.BindingType(42).String(), convey.ShouldEqual, "binding(42)")

		convey.Convey("When a binding is encoded as JSON", func() {
			raw, err := json.Marshal(model.InteractionProfileBinding{Type: model.BindingVibration})
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(raw), convey.ShouldContainSubstring, `"type":"vibration"`)

			convey.Convey("Then it decodes back", func() {
				var b model.InteractionProfileBinding
				convey.So(json.Unmarshal(raw, &b), convey.ShouldBeNil)
				convey.So(b.Type, convey.ShouldEqual, model.BindingVibration)
			})
		})

		convey.Convey("When an unknown name is decoded", func() {
			var bt model.BindingType
			convey.So(bt.UnmarshalText([]byte("haptic")), convey.ShouldBeNil)
			convey.So(bt, convey.ShouldEqual, model.BindingUnknown)
		})
	})
}

func TestLocationFlags(t *testing.T) {
	f := model.OrientationValid | model.PositionValid
	if !f.Has(model.OrientationValid) || !f.Has(model.PositionValid) {
		t.Fatalf("flags %b missing valid bits", f)
	}
	if f.Has(model.OrientationValid | model.OrientationTracked) {
		t.Fatalf("flags %b should not have tracked bit", f)
	}
}

func TestCommands(t *testing.T) {
	convey.Convey("Given every command variant", t, func() {
		cmds := []model.Command{
			model.SetPose{Client: 1},
			model.Init{Client: 2},
			model.Grab{Client: 3},
			model.Reset{Client: 4},
		}
		names := []string{"set_pose", "init", "grab", "reset"}

		convey.Convey("Then names and senders are reported", func() {
			for i, c := range cmds {
				convey.So(model.CommandName(c), convey.ShouldEqual, names[i])
				convey.So(c.Sender(), convey.ShouldEqual, model.ClientID(i+1))
			}
		})
	})
}
