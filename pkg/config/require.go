package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalConfiguration marks settings without which a process must not start.
var ErrFatalConfiguration = errors.New("fatal configuration")

// Required collects the names of missing required env vars.
type Required struct {
	missing []string
}

func (r *Required) NonEmpty(value, envName string) {
	if strings.TrimSpace(value) == "" {
		r.missing = append(r.missing, envName)
	}
}

func (r *Required) Positive(value int, envName string) {
	if value <= 0 {
		r.missing = append(r.missing, envName)
	}
}

func (r *Required) Missing() []string {
	return r.missing
}

func (r *Required) Err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing required env %s", ErrFatalConfiguration, strings.Join(r.missing, ", "))
}
