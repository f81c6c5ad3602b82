package monitoring

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"parking-lot-monitoring-system/monitor/internal/repos"
)

var (
	ErrUnknownDevice    = errors.New("unknown device")
	ErrDuplicateReading = errors.New("duplicate reading")
	ErrNotFound         = errors.New("not found")
)

// ValidationError collects per-field messages for a rejected input.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(e.Fields[field], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func mapStoreNotFound(err error) error {
	if errors.Is(err, repos.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

