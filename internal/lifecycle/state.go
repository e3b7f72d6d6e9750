package lifecycle

import "fmt"

// State is the controller's position in the session lifecycle.
type State int

const (
	Unbound State = iota
	Binding
	AwaitingMaster
	Initializing
	Ready
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case AwaitingMaster:
		return "awaiting_master"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChoiceKind is what the master chooser returned.
type ChoiceKind int

const (
	ChoiceExisting ChoiceKind = iota
	ChoiceCreateNew
	ChoiceCancelled
)

func (k ChoiceKind) String() string {
	switch k {
	case ChoiceExisting:
		return "existing"
	case ChoiceCreateNew:
		return "create_new"
	default:
		return "cancelled"
	}
}
