package cloud

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	// ErrMetadataUnavailable marks failures to reach the instance metadata
	// endpoint or malformed identity documents. Fatal to the run: nothing
	// downstream is safe without a node identity.
	ErrMetadataUnavailable = errors.New("cloud: metadata unavailable")

	// ErrDirectoryLookup marks autoscaling/EC2 API failures during group or
	// membership resolution. Fatal to the run.
	ErrDirectoryLookup = errors.New("cloud: directory lookup failed")

	// ErrParameterNotFound is returned by GetParameter when the key is absent.
	ErrParameterNotFound = errors.New("cloud: parameter not found")

	// ErrParameterExists is returned by CreateParameter when another writer
	// already created the key. Distinct from transient errors so callers can
	// treat it as a lost race, not a failure.
	ErrParameterExists = errors.New("cloud: parameter already exists")
)

// directoryErr wraps an AWS API error under ErrDirectoryLookup, keeping the
// service error code visible in the message for operators.
func directoryErr(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %s: %s", ErrDirectoryLookup, op, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%w: %s: %v", ErrDirectoryLookup, op, err)
}

func metadataErr(op string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s", ErrMetadataUnavailable, op)
}
