package resources

import (
	"github.com/onnwee/event-companion/backend/internal/apiclient"
)

// UserError carries a message suitable for display alongside the
// classified cause.
type UserError struct {
	Resource string
	Kind     apiclient.ErrorKind
	Message  string
	Err      error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }

// messages holds per-resource wording; missing kinds use the defaults below.
type messages map[apiclient.ErrorKind]string

func transform(resource string, msgs messages, err error) error {
	if err == nil {
		return nil
	}
	kind := apiclient.Classify(err).Kind
	msg, ok := msgs[kind]
	if !ok {
		switch kind {
		case apiclient.KindNetwork:
			msg = "Unable to load " + resource + ". Check your connection and try again."
		case apiclient.KindNotFound:
			msg = "No " + resource + " found."
		case apiclient.KindServer:
			msg = "The event server could not load " + resource + ". Please try again later."
		default:
			msg = "Something went wrong while loading " + resource + "."
		}
	}
	return &UserError{Resource: resource, Kind: kind, Message: msg, Err: err}
}
