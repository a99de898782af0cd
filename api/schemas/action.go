// api/schemas/action.go
package schemas

import (
	"fmt"
	"strings"
)

// ActionKind is the fixed vocabulary of page actions a planner can decide on.
type ActionKind string

const (
	ActionClick    ActionKind = "CLICK"    // Clicks the element matched by Target.
	ActionType     ActionKind = "TYPE"     // Fills the element matched by Target with Value.
	ActionSubmit   ActionKind = "SUBMIT"   // Clicks Target, or presses Enter when no target is given.
	ActionPaginate ActionKind = "PAGINATE" // Clicks a pagination control matched by Target.
	ActionWait     ActionKind = "WAIT"     // Pauses for a fixed duration.
	ActionStop     ActionKind = "STOP"     // Ends the cycle without touching the page.
)

// ActionKinds lists every supported kind in declaration order.
var ActionKinds = []ActionKind{
	ActionClick,
	ActionType,
	ActionSubmit,
	ActionPaginate,
	ActionWait,
	ActionStop,
}

// Valid reports whether k is part of the supported vocabulary.
func (k ActionKind) Valid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// RequiresTarget reports whether the kind cannot act without a selector.
// SUBMIT is excluded because it falls back to an Enter keypress.
func (k ActionKind) RequiresTarget() bool {
	return k == ActionClick || k == ActionType || k == ActionPaginate
}

// ParseActionKind normalizes a user supplied kind string.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// ActionDecision is a single step chosen by an external planner.
type ActionDecision struct {
	Kind       ActionKind `json:"action"`
	Target     string     `json:"target,omitempty"`
	Value      string     `json:"value,omitempty"`
	Rationale  string     `json:"rationale"`
	Confidence float64    `json:"confidence"`
}

// HasTarget reports whether a selector was supplied.
func (a ActionDecision) HasTarget() bool { return a.Target != "" }

// HasValue reports whether a value was supplied.
func (a ActionDecision) HasValue() bool { return a.Value != "" }

// Validate reports structural problems with the decision. The engine does not
// call it: an inapplicable decision is executed as a no-op. Harnesses use it to
// warn about scripts before running them.
func (a ActionDecision) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if a.Kind.RequiresTarget() && !a.HasTarget() {
		return fmt.Errorf("%s requires a target selector", a.Kind)
	}
	if a.Kind == ActionType && !a.HasValue() {
		return fmt.Errorf("%s requires a value", a.Kind)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence %.2f is outside [0, 1]", a.Confidence)
	}
	return nil
}

// String renders a short form used in log lines and screenshot names.
func (a ActionDecision) String() string {
	if a.Target == "" {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s(%s)", a.Kind, a.Target)
}
