package submission

import "slices"

// BlockingLevel gates whether dependent actions may proceed after an operation.
type BlockingLevel string

const (
	// BlockingNone is a silent success.
	BlockingNone BlockingLevel = ""
	// BlockingWarning allows continuation with a displayed message.
	BlockingWarning BlockingLevel = "warning"
	// BlockingError hard-stops dependent downstream actions.
	BlockingError BlockingLevel = "error"
)

// TransactionMessage is the outcome of the last authority interaction of a document.
type TransactionMessage struct {
	Title         string        `json:"title,omitempty"`
	Errors        []string      `json:"errors"`
	BlockingLevel BlockingLevel `json:"blocking_level,omitempty"`
}

// Info builds a non-blocking message.
func Info(title string) TransactionMessage {
	return TransactionMessage{Title: title, Errors: []string{}}
}

// Warning builds a message that allows continuation.
func Warning(title string, errs ...string) TransactionMessage {
	return TransactionMessage{Title: title, Errors: nonNil(errs), BlockingLevel: BlockingWarning}
}

// Blocking builds a message that stops dependent actions.
func Blocking(title string, errs ...string) TransactionMessage {
	return TransactionMessage{Title: title, Errors: nonNil(errs), BlockingLevel: BlockingError}
}

// IsBlocking reports whether dependent actions must stop.
func (m TransactionMessage) IsBlocking() bool {
	return m.BlockingLevel == BlockingError
}

// Equal compares messages field by field.
func (m TransactionMessage) Equal(other TransactionMessage) bool {
	return m.Title == other.Title &&
		m.BlockingLevel == other.BlockingLevel &&
		slices.Equal(m.Errors, other.Errors)
}

func nonNil(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}
