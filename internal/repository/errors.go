package repository

import (
	"errors"
	"fmt"
	"strings"

	"forwarding-audit-go/internal/model"
)

var (
	// ErrNotFound is returned for unknown rule ids.
	ErrNotFound = errors.New("rule not found")
	// ErrDuplicateEmail is returned when a rule with the email already exists.
	ErrDuplicateEmail = errors.New("a rule with this email already exists")
	// ErrUnknownRule is returned by filter operations on a missing rule.
	ErrUnknownRule = errors.New("filter references an unknown rule")
	// ErrInvalidRule is returned when a required rule field is blank.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrStorage marks backend I/O and transaction failures.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err unless it is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStorage, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// ValidateRule checks the fields every stored rule must carry.
func ValidateRule(r model.Rule) error {
	if strings.TrimSpace(r.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	return nil
}

// ValidateUpdate rejects updates that would blank a required field.
func ValidateUpdate(u model.RuleUpdate) error {
	if u.Email != nil && strings.TrimSpace(*u.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidRule)
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	return nil
}
