package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerRestart Trigger = "RESTART"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// TriggerFor returns the trigger that moves a pending proposal into the target state
func TriggerFor(target State) (Trigger, bool) {
	switch target {
	case StateApproved:
		return TriggerApprove, true
	case StateRejected:
		return TriggerReject, true
	case StatePending:
		return TriggerRestart, true
	default:
		return "", false
	}
}
