package auth

import "fmt"

// ConfigError reports a required credential field that is missing or
// empty in the store. It is not retryable; the operator has to fix the
// stored configuration before the operation can succeed.
type ConfigError struct {
	Path  string
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("auth: %s is empty in %s", e.Field, e.Path)
}

// TokenEndpointError reports a non-2xx response from the provider's
// token endpoint. The response body is carried verbatim for logging;
// no retry is attempted here.
type TokenEndpointError struct {
	Op     string
	Status int
	Body   string
}

func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("auth: %s failed: status %d: %s", e.Op, e.Status, e.Body)
}

// KeyError reports a private key parse or signing failure in the
// service-credential path. Treated as a configuration fault.
type KeyError struct {
	Reason string
	Err    error
}

func (e *KeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *KeyError) Unwrap() error { return e.Err }
