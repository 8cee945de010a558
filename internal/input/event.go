// Package input models captured keyboard and mouse events and the platform
// capability used to capture and inject them.
//
// Platform support:
//   - Linux: reads /dev/input/event* (requires the input group or root) and
//     injects through /dev/uinput
//   - Other platforms: not available; a Simulated device is provided for tests
//     and headless tooling
package input

import (
	"fmt"
	"time"
)

// ActionKind discriminates the Action variant.
type ActionKind uint8

const (
	KindKeyPress ActionKind = iota + 1
	KindKeyRelease
	KindMouseMove
	KindButtonPress
	KindButtonRelease
	KindWheel
)

// String returns the kind name.
func (k ActionKind) String() string {
	switch k {
	case KindKeyPress:
		return "key_press"
	case KindKeyRelease:
		return "key_release"
	case KindMouseMove:
		return "mouse_move"
	case KindButtonPress:
		return "button_press"
	case KindButtonRelease:
		return "button_release"
	case KindWheel:
		return "wheel"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	return k >= KindKeyPress && k <= KindWheel
}

// Button identifies a mouse button.
type Button uint8

const (
	ButtonLeft Button = iota + 1
	ButtonRight
	ButtonMiddle
	ButtonSide
	ButtonExtra
)

// String returns the button name.
func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	case ButtonSide:
		return "side"
	case ButtonExtra:
		return "extra"
	default:
		return fmt.Sprintf("button(%d)", uint8(b))
	}
}

// Action is a single input action. Only the fields relevant to Kind are set:
// Key for key actions, X/Y for mouse moves, Button for button actions and
// DeltaX/DeltaY for wheel actions.
type Action struct {
	Kind   ActionKind
	Key    Key
	Button Button
	X, Y   float64
	DeltaX int64
	DeltaY int64
}

// KeyPress returns a key-press action.
func KeyPress(k Key) Action { return Action{Kind: KindKeyPress, Key: k} }

// KeyRelease returns a key-release action.
func KeyRelease(k Key) Action { return Action{Kind: KindKeyRelease, Key: k} }

// MouseMove returns an absolute pointer move action.
func MouseMove(x, y float64) Action { return Action{Kind: KindMouseMove, X: x, Y: y} }

// ButtonPress returns a mouse-button press action.
func ButtonPress(b Button) Action { return Action{Kind: KindButtonPress, Button: b} }

// ButtonRelease returns a mouse-button release action.
func ButtonRelease(b Button) Action { return Action{Kind: KindButtonRelease, Button: b} }

// Wheel returns a scroll action.
func Wheel(dx, dy int64) Action { return Action{Kind: KindWheel, DeltaX: dx, DeltaY: dy} }

// String renders the action for logs.
func (a Action) String() string {
	switch a.Kind {
	case KindKeyPress, KindKeyRelease:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Key)
	case KindMouseMove:
		return fmt.Sprintf("%s(%.0f,%.0f)", a.Kind, a.X, a.Y)
	case KindButtonPress, KindButtonRelease:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Button)
	case KindWheel:
		return fmt.Sprintf("%s(%d,%d)", a.Kind, a.DeltaX, a.DeltaY)
	default:
		return a.Kind.String()
	}
}

// Event is one captured action together with its capture time. Only
// differences between timestamps carry meaning.
type Event struct {
	Timestamp time.Time
	Action    Action
}

// NewEvent stamps an action with the current time.
func NewEvent(a Action) Event {
	return Event{Timestamp: time.Now(), Action: a}
}
