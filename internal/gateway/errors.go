package gateway

import "fmt"

// CredentialError indicates missing or rejected gateway credentials. It is not
// retriable; the process either fails at startup or runs in explicit demo mode.
type CredentialError struct {
	Message string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("gateway credentials: %s", e.Message)
}

// ValidationError covers bad caller input, either rejected locally before any
// network call or reported by the gateway as a 4xx.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// UnavailableError wraps transport failures and gateway 5xx responses. The
// caller may retry create/read operations; confirm is never retried.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("gateway unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// ProtocolError indicates a gateway response missing a shape this client
// depends on, such as a redirect confirmation without a URL. The raw payload
// is preserved for diagnosis and the attempt is not retried.
type ProtocolError struct {
	Op      string
	Message string
	Raw     []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("gateway protocol violation during %s: %s", e.Op, e.Message)
}
