package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tracker/autotracker"
	"tracker/engine"
	"tracker/snes"
	"tracker/util"
)

// trackerOptions are the flags shared by every command that drives a tracker.
type trackerOptions struct {
	platform string
	flags    []string
	uri      string
	slot     string
	password string
	interval int
	watches  []string
	romPath  string
	tick     time.Duration
	duration time.Duration
}

func (o *trackerOptions) bind(cmd *cobra.Command) {
	defInterval := util.MillisOrDefault("TRACKER_UPDATE_INTERVAL", 0)

	cmd.Flags().StringVar(&o.platform, "platform", "snes", "game platform")
	cmd.Flags().StringSliceVar(&o.flags, "flag", nil, "pack flag such as lorom, hirom, sa1 or uat (repeatable)")
	cmd.Flags().StringVar(&o.uri, "uri", "", "connect to this address only")
	cmd.Flags().StringVar(&o.slot, "slot", "", "multiworld slot")
	cmd.Flags().StringVar(&o.password, "password", "", "multiworld password")
	cmd.Flags().IntVar(&o.interval, "interval", int(defInterval/time.Millisecond), "minimum milliseconds between console passes")
	cmd.Flags().StringSliceVar(&o.watches, "watch", nil, "watch addr[:len], for example $7EF340:16 (repeatable)")
	cmd.Flags().StringVar(&o.romPath, "rom", "", "detect the memory mapping from this ROM file")
	cmd.Flags().DurationVar(&o.tick, "tick", 16*time.Millisecond, "polling period")
	cmd.Flags().DurationVar(&o.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
}

// parseWatch parses "addr[:len]".
func parseWatch(s string) (addr uint32, n int, err error) {
	n = 1
	a, l, hasLen := strings.Cut(s, ":")
	addr, err = engine.ParseAddress(a)
	if err != nil {
		return
	}
	if hasLen {
		n, err = strconv.Atoi(strings.TrimSpace(l))
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("bad watch length in %q", s)
		}
	}
	return
}

func (o *trackerOptions) newTracker() (*autotracker.AutoTracker, error) {
	flags := append([]string(nil), o.flags...)

	if o.romPath != "" {
		if _, ok := snes.MappingFromFlags(flags); ok {
			return nil, fmt.Errorf("--rom conflicts with a mapping --flag")
		}
		contents, err := os.ReadFile(o.romPath)
		if err != nil {
			return nil, err
		}
		rom, err := snes.NewROM(contents)
		if err != nil {
			return nil, fmt.Errorf("rom: %w", err)
		}
		log.Printf("rom: '%s' uses %s\n", rom.Title(), rom.Mapping())
		flags = append(flags, rom.Mapping().String())
	}

	a := autotracker.New(o.platform, flags, autotracker.Options{
		AppName:       "autotracker",
		SnesAddresses: util.SplitList(os.Getenv("TRACKER_SNES_ADDRESSES")),
		UATAddresses:  util.SplitList(os.Getenv("TRACKER_UAT_ADDRESSES")),
		Interval:      time.Duration(o.interval) * time.Millisecond,
		Logger:        log.Default(),
	})
	if a.State() == autotracker.Unavailable {
		a.Close()
		return nil, fmt.Errorf("no tracker for platform %q with flags %q", o.platform, flags)
	}

	for _, w := range o.watches {
		addr, n, err := parseWatch(w)
		if err != nil {
			a.Close()
			return nil, err
		}
		if !a.AddWatch(int(addr), n) {
			a.Close()
			return nil, fmt.Errorf("watch %q is out of range", w)
		}
	}

	return a, nil
}

func (o *trackerOptions) enable(c *engine.Controller) error {
	args, err := json.Marshal(&engine.EnableCommandArgs{URI: o.uri, Slot: o.slot, Password: o.password})
	if err != nil {
		return err
	}
	return c.Handle(engine.CommandRequest{View: "tracker", Command: "enable", Args: args})
}
