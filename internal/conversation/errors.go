package conversation

import (
	"errors"
)

// Rejections. They leave every piece of session state untouched and are not
// meant to be shown to the user.
var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrPromptPending = errors.New("a prompt is already pending")
	ErrDeployPending = errors.New("a deployment is already in progress")
)

// ErrSessionClosed is returned by commands issued to a closed session. It is
// not a rejection: the caller must reopen the session and retry.
var ErrSessionClosed = errors.New("session is closed")

var (
	errEmptyPromptResponse = errors.New("assistant returned an empty response")
	errEmptyDeployResponse = errors.New("deployment backend returned an empty response")
)

// IsRejection reports whether err means the call was ignored because the
// input was empty or an equivalent operation was already in flight.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrPromptPending) ||
		errors.Is(err, ErrDeployPending)
}

// PromptError is a failed prompt round trip. The transcript has already been
// rolled back; Message is the text the user may resubmit.
type PromptError struct {
	Message string
	Timeout bool
	Err     error
}

func (e *PromptError) Error() string {
	if e.Timeout {
		return "assistant did not answer in time: " + e.Err.Error()
	}
	return "prompt failed: " + e.Err.Error()
}

func (e *PromptError) Unwrap() error {
	return e.Err
}

// DeployError is a failed deployment trigger.
type DeployError struct {
	Err error
}

func (e *DeployError) Error() string {
	return "deployment failed: " + e.Err.Error()
}

func (e *DeployError) Unwrap() error {
	return e.Err
}
