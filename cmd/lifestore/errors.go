package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arthur-debert/lifestore/types"
)

// CLIError is a user facing error with context and suggestions
type CLIError struct {
	Operation   string   // e.g. "insert record", "open domain"
	Cause       string   // e.g. "record not found"
	Details     string   // technical details
	Suggestions []string // what the user can try next
	Underlying  error
}

func (e *CLIError) Error() string {
	var msg strings.Builder

	if e.Operation != "" {
		msg.WriteString(fmt.Sprintf("Failed to %s", e.Operation))
	} else {
		msg.WriteString("Operation failed")
	}
	if e.Cause != "" {
		msg.WriteString(fmt.Sprintf(": %s", e.Cause))
	}
	if e.Details != "" {
		msg.WriteString(fmt.Sprintf(" (%s)", e.Details))
	}
	if len(e.Suggestions) > 0 {
		msg.WriteString("\n\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			msg.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}
	return msg.String()
}

func (e *CLIError) Unwrap() error {
	return e.Underlying
}

// NewValidationError reports a bad argument or flag value
func NewValidationError(operation, field, value string, suggestions ...string) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("invalid %s: %q", field, value),
		Suggestions: suggestions,
	}
}

// NewConfigError reports a configuration problem
func NewConfigError(operation, issue string, suggestions ...string) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("configuration error: %s", issue),
		Suggestions: suggestions,
	}
}

// NewDomainError reports a domain that failed to open, listing the
// registered ones when the name is unknown
func NewDomainError(operation, domain string, available []string, underlying error) *CLIError {
	if !errors.Is(underlying, types.ErrUnknownDomain) {
		return NewStoreError(operation, underlying)
	}
	return &CLIError{
		Operation: operation,
		Cause:     fmt.Sprintf("unknown domain %q", domain),
		Suggestions: []string{
			"Run 'lifestore domains' to see registered domains",
			fmt.Sprintf("Available domains: %s", strings.Join(available, ", ")),
			"Register more domains with --schema <file.yaml>",
		},
		Underlying: underlying,
	}
}

// NewStoreError maps store error kinds to a short cause
func NewStoreError(operation string, underlying error, suggestions ...string) *CLIError {
	cause := "store operation failed"
	switch {
	case errors.Is(underlying, types.ErrNotFound):
		cause = "record not found"
		suggestions = append(suggestions, CommonSuggestions.CheckKey)
	case errors.Is(underlying, types.ErrDuplicateKey):
		cause = "a record with the same key or unique value exists"
	case errors.Is(underlying, types.ErrUnknownCollection):
		cause = "unknown collection"
		suggestions = append(suggestions, CommonSuggestions.CheckSchema)
	case errors.Is(underlying, types.ErrInvalidQuery):
		cause = "invalid query"
		suggestions = append(suggestions, CommonSuggestions.CheckWhere)
	case errors.Is(underlying, types.ErrInvalidRecord):
		cause = "invalid record"
	case errors.Is(underlying, types.ErrInvalidSchema):
		cause = "invalid schema"
	case errors.Is(underlying, types.ErrSchemaMismatch), errors.Is(underlying, types.ErrUnsupportedSchemaVersion):
		cause = "stored schema does not match the registry"
	case types.IsStorageFailure(underlying):
		cause = "storage failure"
		suggestions = append(suggestions, CommonSuggestions.CheckPerms)
	}

	details := ""
	if underlying != nil {
		details = underlying.Error()
	}
	return &CLIError{
		Operation:   operation,
		Cause:       cause,
		Details:     details,
		Suggestions: suggestions,
		Underlying:  underlying,
	}
}

// WrapError adds CLI context to err
func WrapError(operation string, err error, suggestions ...string) error {
	if err == nil {
		return nil
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		if cliErr.Operation == "" {
			cliErr.Operation = operation
		}
		return cliErr
	}
	return NewStoreError(operation, err, suggestions...)
}

// CommonSuggestions are reused across commands
var CommonSuggestions = struct {
	CheckConfig string
	CheckKey    string
	CheckSchema string
	CheckWhere  string
	CheckPerms  string
}{
	CheckConfig: "Check lifestore.yaml or the LIFESTORE_* environment variables",
	CheckKey:    "Verify the key exists (try the 'list' command first)",
	CheckSchema: "Run 'lifestore schema <domain>' to see its collections",
	CheckWhere:  "Use --where field=value, field>=n, field=a|b, field=lo..hi or field~text",
	CheckPerms:  "Check file permissions of the data directory",
}
