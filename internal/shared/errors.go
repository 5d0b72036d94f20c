package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrNotConfigured indicates a required tenant setting is missing.
	ErrNotConfigured = errors.New("required configuration missing")
	// ErrTransient marks infrastructure failures that are safe to retry.
	ErrTransient = errors.New("transient failure")
)

// Transient wraps err so callers can detect retryable failures with errors.Is.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// NotConfigured builds a configuration error naming the missing setting.
func NotConfigured(what string) error {
	return fmt.Errorf("%w: %s", ErrNotConfigured, what)
}
