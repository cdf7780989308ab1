package engine

import (
	"fmt"
	"reflect"
	"sort"

	"tracker/autotracker"
	"tracker/snes"
)

type WatchViewModel struct {
	Addr Address  `json:"addr"`
	Len  int      `json:"len"`
	Data HexBytes `json:"data"`
}

type StatsViewModel struct {
	PassMillis       float64 `json:"passMillis"`
	PassUpdates      int     `json:"passUpdates"`
	UpdatesPerSecond float64 `json:"ups"`
}

// TrackerViewModel mirrors the observable state of an AutoTracker.
type TrackerViewModel struct {
	c        *Controller
	isClean  bool
	commands map[string]Command

	Name      string                 `json:"name"`
	SubName   string                 `json:"subName"`
	State     string                 `json:"state"`
	Connected bool                   `json:"connected"`
	Mapping   string                 `json:"mapping"`
	Watches   []WatchViewModel       `json:"watches"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Stats     *StatsViewModel        `json:"stats,omitempty"`
}

func NewTrackerViewModel(c *Controller) *TrackerViewModel {
	v := &TrackerViewModel{c: c}

	// supported commands:
	v.commands = map[string]Command{
		"enable":     &EnableCommand{v},
		"disable":    &DisableCommand{v},
		"watch":      &WatchCommand{v, true},
		"unwatch":    &WatchCommand{v, false},
		"interval":   &IntervalCommand{v},
		"mapping":    &MappingCommand{v},
		"clearCache": &ClearCacheCommand{v},
	}

	return v
}

func (v *TrackerViewModel) IsDirty() bool {
	return !v.isClean
}

func (v *TrackerViewModel) ClearDirty() {
	v.isClean = true
}

func (v *TrackerViewModel) MarkDirty() {
	v.isClean = false
}

// Update copies the tracker's current state, marking the view model dirty on any difference.
func (v *TrackerViewModel) Update() {
	t := v.c.tracker

	v.set(&v.Name, t.Name())
	v.set(&v.SubName, t.SubName())
	v.set(&v.State, t.State().String())
	v.set(&v.Connected, t.State() == autotracker.ConsoleConnected)

	mapping := ""
	if t.Mapping() != snes.MappingUnknown {
		mapping = t.Mapping().String()
	}
	v.set(&v.Mapping, mapping)

	ranges := t.Watches()
	watches := make([]WatchViewModel, 0, len(ranges))
	for _, r := range ranges {
		data := make(HexBytes, r.Len)
		for i := range data {
			// already watched so this does not add anything:
			data[i] = t.ReadUInt8(r.Addr + uint32(i))
		}
		watches = append(watches, WatchViewModel{Addr: Address(r.Addr), Len: r.Len, Data: data})
	}
	v.set(&v.Watches, watches)

	var variables map[string]interface{}
	if names := t.Variables(); len(names) > 0 {
		variables = make(map[string]interface{}, len(names))
		for _, name := range names {
			variables[name] = t.ReadVariable(name)
		}
	}
	v.set(&v.Variables, variables)

	var stats *StatsViewModel
	if s, ok := t.Stats(); ok {
		stats = &StatsViewModel{
			PassMillis:       float64(s.LastPass.Duration.Microseconds()) / 1000.0,
			PassUpdates:      s.LastPass.Updates,
			UpdatesPerSecond: s.UpdatesPerSecond,
		}
	}
	v.set(&v.Stats, stats)
}

// set assigns value to *field through reflection and marks dirty if it changed.
func (v *TrackerViewModel) set(field interface{}, value interface{}) {
	f := reflect.ValueOf(field).Elem()
	if reflect.DeepEqual(f.Interface(), value) {
		return
	}
	if value == nil {
		f.Set(reflect.Zero(f.Type()))
	} else {
		f.Set(reflect.ValueOf(value))
	}
	v.MarkDirty()
}

// VariableNames returns the names of Variables in order.
func (v *TrackerViewModel) VariableNames() []string {
	names := make([]string, 0, len(v.Variables))
	for name := range v.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *TrackerViewModel) CommandFor(command string) (Command, error) {
	ce, ok := v.commands[command]
	if !ok {
		return nil, fmt.Errorf("no command '%s' found", command)
	}
	return ce, nil
}
