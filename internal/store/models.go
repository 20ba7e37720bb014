package store

import (
	"sort"

	"github.com/KongGithubDev/LightLink/internal/schedule"
)

// DefaultClock is the on/off value of an entry with no schedule times.
const DefaultClock = "00:00"

// Light is a catalog entry: a named switch bound to a controller output pin.
type Light struct {
	Name            string              `json:"name"`
	Pin             int                 `json:"pin"`
	On              string              `json:"on"`
	Off             string              `json:"off"`
	ScheduleEnabled bool                `json:"scheduleEnabled"`
	Schedules       []schedule.Interval `json:"schedules,omitempty"`
	CreatedAt       int64               `json:"createdAt"` // unix milliseconds
}

// Intervals returns the entry's schedule windows: the multi-interval list
// when set, otherwise the single on/off pair.
func (l *Light) Intervals() []schedule.Interval {
	if len(l.Schedules) > 0 {
		return l.Schedules
	}
	return []schedule.Interval{{On: l.On, Off: l.Off}}
}

// Normalized returns a copy with empty times replaced by DefaultClock.
func (l *Light) Normalized() Light {
	out := *l
	if out.On == "" {
		out.On = DefaultClock
	}
	if out.Off == "" {
		out.Off = DefaultClock
	}
	out.Schedules = append([]schedule.Interval(nil), l.Schedules...)
	return out
}

func sortLights(lights []*Light) {
	sort.SliceStable(lights, func(i, j int) bool {
		if lights[i].CreatedAt != lights[j].CreatedAt {
			return lights[i].CreatedAt < lights[j].CreatedAt
		}
		return lights[i].Name < lights[j].Name
	})
}
