package validate

import "errors"

// Kind classifies a rejection. Rejections are ordinary values, not failures;
// the state machine turns them into clarification prompts.
type Kind string

const (
	OutOfRange  Kind = "out_of_range"
	WrongFormat Kind = "wrong_format"
	Ambiguous   Kind = "ambiguous"
)

// Error is the typed rejection returned by a validator. An Ambiguous rejection
// carries a normalized Candidate and NeedsConfirm set; the caller must obtain
// explicit user confirmation before trusting the candidate.
type Error struct {
	Kind         Kind
	Message      string
	Candidate    string
	NeedsConfirm bool
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func reject(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func ambiguous(message, candidate string) error {
	return &Error{Kind: Ambiguous, Message: message, Candidate: candidate, NeedsConfirm: true}
}

// As unwraps err into a *Error when it is one.
func As(err error) (*Error, bool) {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}
