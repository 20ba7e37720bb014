package core

import (
	"errors"
	"slices"
)

// MockDevice is the device name reported by the simulator.
const MockDevice = "mock-lightlink"

// Simulator stands in for a controller in mock mode, applying commands to
// the cached status directly.
type Simulator struct {
	hub *Hub
}

// NewSimulator creates a simulator bound to hub.
func NewSimulator(hub *Hub) *Simulator {
	return &Simulator{hub: hub}
}

func mockSeed() DeviceStatus {
	entry := func(name, on, off string) LightState {
		return LightState{Name: name, On: ptr(on), Off: ptr(off), ScheduleEnabled: ptr(false)}
	}
	return DeviceStatus{
		Device: MockDevice,
		Lights: []LightState{
			entry("kitchen", "18:00", "23:00"),
			entry("living", "18:00", "23:00"),
			entry("bedroom", "21:00", "07:00"),
		},
	}
}

var errSeeded = errors.New("already seeded")

// Seed installs the mock status if nothing is cached yet.
func (s *Simulator) Seed() error {
	_, err := s.hub.MutateStatus(func(st *DeviceStatus, ok bool) error {
		if ok {
			return errSeeded
		}
		*st = mockSeed()
		return nil
	})
	if errors.Is(err, errSeeded) {
		return nil
	}
	return err
}

// Apply mutates the simulated status as a controller would and broadcasts
// the result.
func (s *Simulator) Apply(cmd Command) error {
	if err := s.Seed(); err != nil {
		return err
	}
	catalogged := func(name string) bool {
		_, err := s.hub.catalog.Get(name)
		return err == nil
	}

	_, err := s.hub.MutateStatus(func(st *DeviceStatus, _ bool) error {
		if st.Device == "" {
			st.Device = MockDevice
		}
		switch c := cmd.(type) {
		case SetLight:
			if c.Target == TargetAll {
				for i := range st.Lights {
					st.Lights[i].State = nextState(st.Lights[i].State, c.State)
				}
				return nil
			}
			i, err := s.entry(st, c.Target, catalogged)
			if err != nil {
				return err
			}
			st.Lights[i].State = nextState(st.Lights[i].State, c.State)

		case Schedule:
			i, err := s.entry(st, c.Target, catalogged)
			if err != nil {
				return err
			}
			st.Lights[i].On = ptr(c.On)
			st.Lights[i].Off = ptr(c.Off)
			st.Lights[i].ScheduleEnabled = ptr(c.Enabled)

		case ScheduleMulti:
			i, err := s.entry(st, c.Target, catalogged)
			if err != nil {
				return err
			}
			st.Lights[i].On = ptr(c.Intervals[0].On)
			st.Lights[i].Off = ptr(c.Intervals[0].Off)
			st.Lights[i].ScheduleEnabled = ptr(c.Enabled)

		case AddLight:
			if indexOf(st, c.Name) < 0 {
				st.Lights = append(st.Lights, LightState{
					Name:            c.Name,
					On:              ptr(orDefault(c.On)),
					Off:             ptr(orDefault(c.Off)),
					ScheduleEnabled: ptr(c.ScheduleEnabled),
					Pin:             ptr(c.Pin),
				})
			}

		case DeleteLight:
			st.Lights = slices.DeleteFunc(st.Lights, func(l LightState) bool { return l.Name == c.Name })
		}
		return nil
	})
	return err
}

// entry returns the index of name in st, adding an entry when the catalog
// knows the name but the simulated status does not.
func (s *Simulator) entry(st *DeviceStatus, name string, catalogged func(string) bool) (int, error) {
	if i := indexOf(st, name); i >= 0 {
		return i, nil
	}
	if !catalogged(name) {
		return 0, Errorf(CodeNotFound, "light %s", name)
	}
	st.Lights = append(st.Lights, LightState{Name: name})
	return len(st.Lights) - 1, nil
}

func indexOf(st *DeviceStatus, name string) int {
	return slices.IndexFunc(st.Lights, func(l LightState) bool { return l.Name == name })
}

func nextState(cur bool, want *bool) bool {
	if want != nil {
		return *want
	}
	return !cur
}
