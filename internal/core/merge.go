package core

import (
	"github.com/KongGithubDev/LightLink/internal/schedule"
	"github.com/KongGithubDev/LightLink/internal/store"
)

// MergedLight is one switch in the merged view.
type MergedLight struct {
	Name            string              `json:"name"`
	State           bool                `json:"state"`
	On              string              `json:"on"`
	Off             string              `json:"off"`
	ScheduleEnabled bool                `json:"scheduleEnabled"`
	Pin             int                 `json:"pin,omitempty"`
	Schedules       []schedule.Interval `json:"schedules,omitempty"`
}

// MergedStatus is the catalog overlaid with live state, as shown to clients.
type MergedStatus struct {
	Device          string        `json:"device"`
	Lights          []MergedLight `json:"lights"`
	UpdatedAt       int64         `json:"updatedAt"`
	DeviceConnected bool          `json:"deviceConnected"`
}

// UnknownDevice is reported when no status has been received yet.
const UnknownDevice = "unknown"

// Merge overlays live status onto the catalog. Catalog entries come first in
// catalog order, each taking state, times and the enabled flag from the live
// entry of the same name when present. Live entries without a catalog entry
// follow in the order they were reported. live may be nil.
func Merge(catalog []*store.Light, live *DeviceStatus) MergedStatus {
	out := MergedStatus{
		Device: UnknownDevice,
		Lights: make([]MergedLight, 0, len(catalog)),
	}
	var liveLights []LightState
	if live != nil {
		if live.Device != "" {
			out.Device = live.Device
		}
		out.UpdatedAt = live.UpdatedAt
		liveLights = live.Lights
	}

	byName := make(map[string]LightState, len(liveLights))
	for _, l := range liveLights {
		byName[l.Name] = l
	}

	seen := make(map[string]bool, len(catalog))
	for _, c := range catalog {
		seen[c.Name] = true
		m := MergedLight{
			Name:            c.Name,
			On:              orDefault(c.On),
			Off:             orDefault(c.Off),
			ScheduleEnabled: c.ScheduleEnabled,
			Pin:             c.Pin,
			Schedules:       append([]schedule.Interval(nil), c.Schedules...),
		}
		if l, ok := byName[c.Name]; ok {
			m.State = l.State
			if l.On != nil {
				m.On = *l.On
			}
			if l.Off != nil {
				m.Off = *l.Off
			}
			if l.ScheduleEnabled != nil {
				m.ScheduleEnabled = *l.ScheduleEnabled
			}
		}
		out.Lights = append(out.Lights, m)
	}

	for _, raw := range liveLights {
		if seen[raw.Name] {
			continue
		}
		seen[raw.Name] = true
		l := byName[raw.Name]
		m := MergedLight{
			Name:  l.Name,
			State: l.State,
			On:    store.DefaultClock,
			Off:   store.DefaultClock,
		}
		if l.On != nil {
			m.On = *l.On
		}
		if l.Off != nil {
			m.Off = *l.Off
		}
		if l.ScheduleEnabled != nil {
			m.ScheduleEnabled = *l.ScheduleEnabled
		}
		if l.Pin != nil {
			m.Pin = *l.Pin
		}
		out.Lights = append(out.Lights, m)
	}
	return out
}

func orDefault(clock string) string {
	if clock == "" {
		return store.DefaultClock
	}
	return clock
}
