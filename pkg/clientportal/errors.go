package clientportal

import "fmt"

// AuthenticationError reports a gateway session that is not (or could
// not become) authenticated. Callers decide whether to retry the cycle
// or alert an operator; the Java gateway sometimes needs a manual
// browser login that no amount of retrying fixes.
type AuthenticationError struct {
	Status  int
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway authentication failed (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway authentication failed: %s", e.Message)
}
