// Package errors provides the context-wrapping helpers used across the
// pipeline for consistent error messages.
package errors

import "fmt"

// WrapWithContext wraps err with a static context string. Returns nil if
// err is nil.
func WrapWithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// WrapWithContextf wraps err with a formatted context string.
func WrapWithContextf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
