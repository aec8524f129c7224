package recovery

import "fmt"

// Strategy decides what happens when a component meets malformed input.
type Strategy interface {
	OnError(err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("%s@%d (obj %d %d)", l.Component, l.ByteOffset, l.ObjectNum, l.ObjectGen)
	}
	return fmt.Sprintf("%s@%d", l.Component, l.ByteOffset)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Continue reports whether a component may carry on after the action.
func (a Action) Continue() bool { return a != ActionFail }

// Default returns s, or a lenient strategy when s is nil.
func Default(s Strategy) Strategy {
	if s == nil {
		return NewLenientStrategy(nil)
	}
	return s
}
