package workflow

import (
	"fmt"

	"github.com/mobomo/C2/internal/domain/entity"
)

// Flow decides how approver steps are ordered
type Flow string

const (
	// FlowLinear requires approvers to act one at a time in position order
	FlowLinear Flow = entity.FlowLinear
	// FlowParallel lets every approver act at once
	FlowParallel Flow = entity.FlowParallel
)

// IsValid returns true if the flow is a known mode
func (f Flow) IsValid() bool {
	return f == FlowLinear || f == FlowParallel
}

// String returns the string representation of the flow
func (f Flow) String() string {
	return string(f)
}

// ParseFlow converts user input into a Flow. An empty value means parallel.
func ParseFlow(s string) (Flow, error) {
	if s == "" {
		return FlowParallel, nil
	}
	f := Flow(s)
	if !f.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFlow, s)
	}
	return f, nil
}
