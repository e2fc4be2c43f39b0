package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation") // 400/422
	ErrNotFound   = errors.New("not found")  // 404
)

// ValidationError names the input that was rejected. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	ProductID uint
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("validation: product %d: %s", e.ProductID, e.Reason)
	}
	return "validation: " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
