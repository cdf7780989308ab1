package engine

import (
	"fmt"

	"tracker/snes"
)

type EnableCommand struct{ v *TrackerViewModel }
type EnableCommandArgs struct {
	URI      string `json:"uri"`
	Slot     string `json:"slot"`
	Password string `json:"password"`
}

func (c *EnableCommand) CreateArgs() CommandArgs { return &EnableCommandArgs{} }
func (c *EnableCommand) Execute(args CommandArgs) error {
	return c.v.Enable(args.(*EnableCommandArgs))
}

func (v *TrackerViewModel) Enable(args *EnableCommandArgs) error {
	defer v.c.UpdateAndNotifyView()

	if !v.c.tracker.Enable(args.URI, args.Slot, args.Password) {
		return fmt.Errorf("%s: could not enable", v.c.tracker.Name())
	}
	v.c.setStatus(fmt.Sprintf("%s enabled", v.c.tracker.Name()))
	return nil
}

type DisableCommand struct{ v *TrackerViewModel }

func (c *DisableCommand) CreateArgs() CommandArgs { return nil }
func (c *DisableCommand) Execute(_ CommandArgs) error {
	return c.v.Disable()
}

func (v *TrackerViewModel) Disable() error {
	defer v.c.UpdateAndNotifyView()

	if !v.c.tracker.Disable() {
		return fmt.Errorf("%s: could not disable", v.c.tracker.Name())
	}
	v.c.setStatus(fmt.Sprintf("%s disabled", v.c.tracker.Name()))
	return nil
}

// WatchCommand adds or removes a watch depending on add.
type WatchCommand struct {
	v   *TrackerViewModel
	add bool
}
type WatchCommandArgs struct {
	Addr Address `json:"addr"`
	Len  int     `json:"len"`
}

func (c *WatchCommand) CreateArgs() CommandArgs { return &WatchCommandArgs{Len: 1} }
func (c *WatchCommand) Execute(args CommandArgs) error {
	a := args.(*WatchCommandArgs)
	if c.add {
		return c.v.Watch(uint32(a.Addr), a.Len)
	}
	return c.v.Unwatch(uint32(a.Addr), a.Len)
}

func (v *TrackerViewModel) Watch(addr uint32, n int) error {
	if !v.c.tracker.AddWatch(int(addr), n) {
		return fmt.Errorf("invalid watch $%06x+%d", addr, n)
	}
	v.MarkDirty()
	return nil
}

func (v *TrackerViewModel) Unwatch(addr uint32, n int) error {
	if !v.c.tracker.RemoveWatch(int(addr), n) {
		return fmt.Errorf("invalid watch $%06x+%d", addr, n)
	}
	v.MarkDirty()
	return nil
}

type IntervalCommand struct{ v *TrackerViewModel }
type IntervalCommandArgs struct {
	Millis int `json:"ms"`
}

func (c *IntervalCommand) CreateArgs() CommandArgs { return &IntervalCommandArgs{} }
func (c *IntervalCommand) Execute(args CommandArgs) error {
	ms := args.(*IntervalCommandArgs).Millis
	if ms < 0 {
		return fmt.Errorf("negative interval %d", ms)
	}
	c.v.c.tracker.SetInterval(ms)
	return nil
}

type MappingCommand struct{ v *TrackerViewModel }
type MappingCommandArgs struct {
	Mapping string `json:"mapping"`
}

func (c *MappingCommand) CreateArgs() CommandArgs { return &MappingCommandArgs{} }
func (c *MappingCommand) Execute(args CommandArgs) error {
	name := args.(*MappingCommandArgs).Mapping
	m, ok := snes.ParseMapping(name)
	if !ok {
		return fmt.Errorf("unknown mapping '%s'", name)
	}
	c.v.c.tracker.SetMapping(m)
	c.v.MarkDirty()
	return nil
}

type ClearCacheCommand struct{ v *TrackerViewModel }

func (c *ClearCacheCommand) CreateArgs() CommandArgs { return nil }
func (c *ClearCacheCommand) Execute(_ CommandArgs) error {
	c.v.c.tracker.ClearCache()
	c.v.MarkDirty()
	return nil
}
