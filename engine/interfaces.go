package engine

type Updateable interface {
	Update()
}

type Dirtyable interface {
	IsDirty() bool
	ClearDirty()
	MarkDirty()
}

type CommandArgs interface{}

// Command is requested by the view with JSON arguments.
type Command interface {
	// CreateArgs returns a value the view's JSON arguments are unmarshaled into.
	CreateArgs() CommandArgs
	Execute(args CommandArgs) error
}

// Specific ViewModel implements this
type ViewModelCommandHandler interface {
	CommandFor(command string) (Command, error)
}

// notifies view of a modified view model:
type ViewNotifier interface {
	NotifyView(view string, viewModel interface{})
}

type ViewNotifierFunc func(view string, viewModel interface{})

func (f ViewNotifierFunc) NotifyView(view string, viewModel interface{}) { f(view, viewModel) }
