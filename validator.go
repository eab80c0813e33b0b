package ratelimitcore

import "fmt"

// validateNamespace rejects empty or malformed namespace strings before
// they reach the registry or a storage backend.
func validateNamespace(namespace string) error {
	return validateKey(namespace, "namespace")
}

// validateDelta rejects a zero delta, which would never change any
// counter and is almost always a caller mistake.
func validateDelta(delta uint64) error {
	if delta == 0 {
		return fmt.Errorf("delta must be greater than zero")
	}
	return nil
}
