package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Argument schemas for the closed tool set. Validation is structural:
// required fields and types are enforced, unknown fields are rejected.

// SearchDocsArgs selects documents by substring query.
type SearchDocsArgs struct {
	Query string `json:"query" validate:"required"`
}

// ReadDocArgs reads a single document by id.
type ReadDocArgs struct {
	DocID string `json:"doc_id" validate:"required"`
}

// HTTPGetArgs fetches a URL through the configured egress adapter.
type HTTPGetArgs struct {
	URL             string `json:"url" validate:"required"`
	FollowRedirects bool   `json:"follow_redirects"`
}

// CreateTicketArgs opens a ticket in a project.
type CreateTicketArgs struct {
	Project string `json:"project" validate:"required"`
	Title   string `json:"title" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// DBQueryReadonlyArgs runs a read-only SQL query.
type DBQueryReadonlyArgs struct {
	SQL string `json:"sql" validate:"required"`
}

// SchemaError reports a failed argument validation with a short kind tag
// that becomes part of the deny reason (schema_validation_failed:<kind>).
type SchemaError struct {
	Kind string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema validation failed (%s): %v", e.Kind, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

// parseArgs decodes raw arguments into the typed struct pointed to by dst,
// rejecting unknown fields, then runs struct validation.
func parseArgs(raw map[string]any, dst any) error {
	if raw == nil {
		raw = map[string]any{}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return &SchemaError{Kind: "encode", Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return &SchemaError{Kind: "type_mismatch", Err: err}
		case strings.Contains(err.Error(), "unknown field"):
			return &SchemaError{Kind: "unknown_field", Err: err}
		default:
			return &SchemaError{Kind: "decode", Err: err}
		}
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			kind := verrs[0].Tag()
			if kind == "required" {
				kind = "missing_field"
			}
			return &SchemaError{Kind: kind, Err: err}
		}
		return &SchemaError{Kind: "invalid", Err: err}
	}

	return nil
}

// ArgsMap renders a typed argument struct back into its generic map form,
// used for taint detection, PDP input, audit, and proposed_action payloads.
func ArgsMap(args any) map[string]any {
	data, err := json.Marshal(args)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}
