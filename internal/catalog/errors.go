package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("catalog: record not found")

	// ErrNoCredentials is returned when a site has no active credentials configured.
	ErrNoCredentials = errors.New("catalog: no credentials configured")

	// ErrFresh marks a mutation skipped because the row is inside the update window.
	ErrFresh = errors.New("catalog: record modified inside update window")
)

// UpstreamError is a non-2xx or malformed response from an external source.
type UpstreamError struct {
	Status int
	URL    string
	Body   string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("upstream %s returned %d: %s", e.URL, e.Status, body)
}

// DataShapeError reports a required field missing from a remote record.
type DataShapeError struct {
	Field  string
	Record string
}

func (e *DataShapeError) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("payload missing required field %q", e.Field)
	}
	return fmt.Sprintf("record %s missing required field %q", e.Record, e.Field)
}

// PersistenceError wraps a failed database operation. The surrounding
// transaction has been rolled back when this is returned from InTx.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a missing operator-supplied value.
type ConfigurationError struct {
	Key string
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Msg)
}

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
