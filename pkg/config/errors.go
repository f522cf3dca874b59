package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingEnv indicates a required environment variable is absent.
	// Fatal at startup; the orchestrators refuse to run without it.
	ErrMissingEnv = errors.New("missing required environment variable")

	// ErrInvalidTuning indicates thyme.yaml parsed but carries an
	// out-of-range value.
	ErrInvalidTuning = errors.New("invalid tuning value")
)

// MissingEnvError lists every required environment variable that was absent
// at startup, so a misconfigured deployment fails with one complete message.
type MissingEnvError struct {
	Keys []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Keys, ", "))
}

func (e *MissingEnvError) Unwrap() error { return ErrMissingEnv }
