// Package engine drives an AutoTracker on a ticker and presents its state to a view as
// named view models, accepting JSON commands back from the view.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tracker/autotracker"
)

var ErrBusy = errors.New("engine: command queue is full")

type CommandRequest struct {
	View    string          `json:"v"`
	Command string          `json:"c"`
	Args    json.RawMessage `json:"a"`
}

type StatusViewModel struct {
	isClean bool
	Message string `json:"message"`
}

func (v *StatusViewModel) IsDirty() bool { return !v.isClean }
func (v *StatusViewModel) ClearDirty()   { v.isClean = true }
func (v *StatusViewModel) MarkDirty()    { v.isClean = false }

type Controller struct {
	tracker *autotracker.AutoTracker

	// dependency that notifies view of updated view model:
	viewNotifier ViewNotifier

	requests chan CommandRequest

	// View Models:
	viewModels       map[string]interface{}
	statusViewModel  *StatusViewModel
	trackerViewModel *TrackerViewModel
}

// NewController takes over the tracker's observer.
func NewController(tracker *autotracker.AutoTracker) *Controller {
	c := &Controller{
		tracker:  tracker,
		requests: make(chan CommandRequest, 16),
	}

	c.statusViewModel = &StatusViewModel{Message: "Not connected"}
	c.trackerViewModel = NewTrackerViewModel(c)

	// assign unique names to each view for easy binding:
	c.viewModels = map[string]interface{}{
		"status":  c.statusViewModel,
		"tracker": c.trackerViewModel,
	}

	tracker.Observe(c)

	return c
}

func (c *Controller) Tracker() *autotracker.AutoTracker { return c.tracker }

func (c *Controller) TrackerViewModel() *TrackerViewModel { return c.trackerViewModel }

func (c *Controller) Status() string { return c.statusViewModel.Message }

// Notify implements autotracker.Observer.
func (c *Controller) Notify(ev autotracker.Event) {
	switch ev.Kind {
	case autotracker.StateChanged:
		c.setStatus(fmt.Sprintf("%s %s", c.tracker.Name(), ev.State))
	case autotracker.Error:
		c.setStatus(ev.Message)
	}
	c.trackerViewModel.MarkDirty()
}

// Tick polls the tracker once and notifies the view if anything happened.
func (c *Controller) Tick() bool {
	happened := c.tracker.DoStuff()
	if happened {
		c.UpdateAndNotifyView()
	} else {
		c.NotifyView()
	}
	return happened
}

// Run ticks until ctx is done, executing submitted commands between ticks.
func (c *Controller) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	c.UpdateAndNotifyView()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.requests:
			if err := c.Handle(req); err != nil {
				log.Printf("engine: %v\n", err)
				c.setStatus(err.Error())
			}
			c.UpdateAndNotifyView()
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Submit queues a command for Run to execute. It is safe to call from any goroutine.
func (c *Controller) Submit(req CommandRequest) error {
	select {
	case c.requests <- req:
		return nil
	default:
		return ErrBusy
	}
}

// Handle executes a command request immediately.
func (c *Controller) Handle(req CommandRequest) error {
	ce, err := c.CommandFor(req.View, req.Command)
	if err != nil {
		return err
	}

	// instantiate a specific args type for the command:
	args := ce.CreateArgs()
	if args != nil && len(req.Args) > 0 {
		if err = json.Unmarshal(req.Args, args); err != nil {
			return fmt.Errorf("command '%s/%s': bad args: %w", req.View, req.Command, err)
		}
	}

	if err = ce.Execute(args); err != nil {
		return fmt.Errorf("command '%s/%s': %w", req.View, req.Command, err)
	}
	return nil
}

// updates all view models:
func (c *Controller) Update() {
	for _, model := range c.viewModels {
		if i, ok := model.(Updateable); ok {
			i.Update()
		}
	}
}

// updates all view models and notifies view:
func (c *Controller) UpdateAndNotifyView() {
	c.Update()
	c.NotifyView()
}

// notifies the view of any updated view models:
func (c *Controller) NotifyView() {
	for view, model := range c.viewModels {
		c.NotifyViewOf(view, model)
	}
}

func (c *Controller) NotifyViewOf(view string, model interface{}) {
	if c.viewNotifier == nil {
		return
	}

	dirtyable, isDirtyable := model.(Dirtyable)
	if isDirtyable && !dirtyable.IsDirty() {
		return
	}

	c.viewNotifier.NotifyView(view, model)

	if isDirtyable {
		dirtyable.ClearDirty()
	}
}

// NotifyViewTo sets the view notifier and sends it every view model regardless of dirty state.
func (c *Controller) NotifyViewTo(viewNotifier ViewNotifier) {
	c.viewNotifier = viewNotifier
	if viewNotifier == nil {
		return
	}

	c.Update()
	for view, model := range c.viewModels {
		viewNotifier.NotifyView(view, model)
		if d, ok := model.(Dirtyable); ok {
			d.ClearDirty()
		}
	}
}

func (c *Controller) CommandFor(view, command string) (Command, error) {
	vm, ok := c.viewModels[view]
	if !ok {
		return nil, fmt.Errorf("no view model '%s' found", view)
	}

	commandHandler, ok := vm.(ViewModelCommandHandler)
	if !ok {
		return nil, fmt.Errorf("view model '%s' does not handle commands", view)
	}

	ce, err := commandHandler.CommandFor(command)
	if err != nil {
		err = fmt.Errorf("view model '%s': %w", view, err)
	}
	return ce, err
}

func (c *Controller) setStatus(msg string) {
	if c.statusViewModel.Message == msg {
		return
	}
	log.Printf("notify: %s\n", msg)
	c.statusViewModel.Message = msg
	c.statusViewModel.MarkDirty()
}
