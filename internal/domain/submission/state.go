// Package submission tracks the authority-side lifecycle of outgoing invoices:
// upload, status polling, annulment and timeout recovery.
package submission

// State is the government-side submission state of a document.
type State string

const (
	StateNone             State = "none"
	StateSent             State = "sent"
	StateSendTimeout      State = "send_timeout"
	StateConfirmed        State = "confirmed"
	StateConfirmedWarning State = "confirmed_warning"
	StateRejected         State = "rejected"
	StateCancelSent       State = "cancel_sent"
	StateCancelTimeout    State = "cancel_timeout"
	StateCancelPending    State = "cancel_pending"
	StateCancelled        State = "cancelled"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateNone, StateSent, StateSendTimeout, StateConfirmed, StateConfirmedWarning,
	StateRejected, StateCancelSent, StateCancelTimeout, StateCancelPending, StateCancelled,
}

// transitions holds the edges reachable by upload, query_status and request_cancel.
// Staying in the same state with a new message is always allowed.
var transitions = map[State][]State{
	StateNone:             {StateSent, StateSendTimeout, StateRejected},
	StateRejected:         {StateSent, StateSendTimeout, StateRejected},
	StateCancelled:        {StateSent, StateSendTimeout, StateRejected},
	StateSent:             {StateConfirmed, StateConfirmedWarning, StateRejected},
	StateSendTimeout:      {StateSent, StateConfirmed, StateConfirmedWarning, StateRejected},
	StateConfirmed:        {StateCancelSent, StateCancelTimeout},
	StateConfirmedWarning: {StateCancelSent, StateCancelTimeout},
	StateCancelSent:       {StateCancelPending, StateConfirmedWarning, StateCancelled},
	StateCancelTimeout:    {StateCancelSent, StateCancelPending, StateConfirmedWarning, StateCancelled},
	StateCancelPending:    {StateCancelSent, StateConfirmedWarning, StateCancelled},
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether a pipeline may move a document from s to next.
func (s State) CanTransitionTo(next State) bool {
	if s == next {
		return s.IsValid()
	}
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// CanUpload reports whether the document may be (re)submitted.
func (s State) CanUpload() bool {
	return s == StateNone || s == StateRejected || s == StateCancelled
}

// CanRequestCancel reports whether an annulment may be requested.
func (s State) CanRequestCancel() bool {
	return s == StateConfirmed || s == StateConfirmedWarning
}

// IsUploadPending reports whether the authority still owes a verdict on an upload.
func (s State) IsUploadPending() bool {
	return s == StateSent || s == StateSendTimeout
}

// IsCancelPending reports whether the authority still owes a verdict on an annulment.
func (s State) IsCancelPending() bool {
	return s == StateCancelSent || s == StateCancelTimeout || s == StateCancelPending
}

// IsPollable reports whether query_status applies.
func (s State) IsPollable() bool {
	return s.IsUploadPending() || s.IsCancelPending()
}

// IsTimeout reports whether the last network call timed out.
func (s State) IsTimeout() bool {
	return s == StateSendTimeout || s == StateCancelTimeout
}

// HoldsChainIndex reports whether a document in this state keeps its positive chain index.
func (s State) HoldsChainIndex() bool {
	return s != StateRejected && s != StateCancelled
}

// PollableStates lists states picked up by scheduled polling.
func PollableStates() []State {
	return []State{StateSent, StateSendTimeout, StateCancelSent, StateCancelTimeout, StateCancelPending}
}
