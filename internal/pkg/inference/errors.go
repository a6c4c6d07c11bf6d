package inference

import "fmt"

// ErrorKind classifies provider-side failures
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindContentRejected ErrorKind = "content_rejected"
	KindInvalidInput    ErrorKind = "invalid_input"
	KindUnavailable     ErrorKind = "unavailable"
)

// VendorError wraps a provider failure, preserving the vendor's own
// error code for support diagnosis.
type VendorError struct {
	Kind       ErrorKind
	VendorCode string
	Message    string
}

func (e *VendorError) Error() string {
	if e.VendorCode != "" {
		return fmt.Sprintf("inference provider error (%s/%s): %s", e.Kind, e.VendorCode, e.Message)
	}
	return fmt.Sprintf("inference provider error (%s): %s", e.Kind, e.Message)
}
