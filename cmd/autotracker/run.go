package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tracker/autotracker"
	"tracker/engine"
)

// RunCmd returns the run command
func RunCmd() *cobra.Command {
	var (
		opts      trackerOptions
		vars      []string
		showHisto bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Track a game and print changes",
		Long: `Connect to the backend selected by --platform and --flag and print state changes,
watched memory and UAT variables as they change.

Examples:
  autotracker run --flag lorom --watch '$7EF340:16'
  autotracker run --platform '' --flag uat --var inventory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newTracker()
			if err != nil {
				return err
			}
			defer a.Close()

			c := engine.NewController(a)
			c.NotifyViewTo(newConsoleView(cmd.OutOrStdout(), vars))
			if err = opts.enable(c); err != nil {
				return err
			}

			if err = run(c, opts.tick, opts.duration); err != nil {
				return err
			}

			if showHisto {
				return printHistogram(cmd.OutOrStdout(), a)
			}
			return nil
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringSliceVar(&vars, "var", nil, "only print these UAT variables (repeatable)")
	cmd.Flags().BoolVar(&showHisto, "histogram", false, "print a histogram of console pass durations on exit")

	return cmd
}

// run drives c until interrupted or until duration elapses.
func run(c *engine.Controller, tick, duration time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	err := c.Run(ctx, tick)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

var (
	stateColors = map[string]*color.Color{
		autotracker.Unavailable.String():      color.New(color.FgRed, color.Bold),
		autotracker.Disabled.String():         color.New(color.Faint),
		autotracker.Disconnected.String():     color.New(color.FgRed),
		autotracker.BridgeConnected.String():  color.New(color.FgYellow),
		autotracker.ConsoleConnected.String(): color.New(color.FgGreen),
	}
	addrColor   = color.New(color.FgCyan)
	statusColor = color.New(color.FgHiMagenta)
)

// consoleView prints what changed between notifications.
type consoleView struct {
	w    io.Writer
	vars map[string]bool

	state   string
	watches map[engine.Address][]byte
	values  map[string]string
}

func newConsoleView(w io.Writer, vars []string) *consoleView {
	v := &consoleView{
		w:       w,
		watches: make(map[engine.Address][]byte),
		values:  make(map[string]string),
	}
	if len(vars) > 0 {
		v.vars = make(map[string]bool, len(vars))
		for _, name := range vars {
			v.vars[name] = true
		}
	}
	return v
}

func (v *consoleView) NotifyView(view string, viewModel interface{}) {
	switch m := viewModel.(type) {
	case *engine.StatusViewModel:
		fmt.Fprintf(v.w, "%s %s\n", statusColor.Sprint("status:"), m.Message)
	case *engine.TrackerViewModel:
		v.tracker(m)
	}
}

func (v *consoleView) tracker(m *engine.TrackerViewModel) {
	if m.State != v.state {
		v.state = m.State
		c, ok := stateColors[m.State]
		if !ok {
			c = color.New(color.Reset)
		}
		name := m.Name
		if m.SubName != "" {
			name += " (" + m.SubName + ")"
		}
		fmt.Fprintf(v.w, "%s %s\n", name, c.Sprint(m.State))
	}

	for _, w := range m.Watches {
		if last, ok := v.watches[w.Addr]; ok && bytes.Equal(last, w.Data) {
			continue
		}
		v.watches[w.Addr] = append([]byte(nil), w.Data...)
		fmt.Fprintf(v.w, "%s %X\n", addrColor.Sprintf("$%06X+%d:", uint32(w.Addr), w.Len), []byte(w.Data))
	}

	for _, name := range m.VariableNames() {
		if v.vars != nil && !v.vars[name] {
			continue
		}
		s := fmt.Sprintf("%v", m.Variables[name])
		if last, ok := v.values[name]; ok && last == s {
			continue
		}
		v.values[name] = s
		fmt.Fprintf(v.w, "%s %s\n", addrColor.Sprint(name+":"), s)
	}
}

func printHistogram(w io.Writer, a *autotracker.AutoTracker) error {
	stats, ok := a.Stats()
	if !ok || len(stats.History) == 0 {
		fmt.Fprintln(w, "no console passes recorded")
		return nil
	}

	data := make([]float64, len(stats.History))
	for i, d := range stats.History {
		data[i] = float64(d.Microseconds()) / 1000.0
	}

	fmt.Fprintf(w, "pass duration (ms) over %d passes, %.1f updates/s:\n", len(data), stats.UpdatesPerSecond)
	hist := histogram.Hist(10, data)
	return histogram.Fprint(w, hist, histogram.Linear(40))
}
