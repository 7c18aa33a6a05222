// Package validation checks request bodies against the embedded JSON schemas
// before they are decoded into handler request structs.
package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/microtask/backend/internal/apperr"
)

// Schema names, one per request body.
const (
	Register         = "register"
	Login            = "login"
	CreateTask       = "create_task"
	Submit           = "submit"
	Withdrawal       = "withdrawal"
	Settle           = "settle"
	RejectWithdrawal = "reject_withdrawal"
	Transfer         = "transfer"
)

// MaxBodyBytes caps how much of a request body is read.
const MaxBodyBytes = 1 << 20

//go:embed schemas/*.json
var schemaFS embed.FS

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every embedded schema, keyed by file name without extension.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		schemas[name], err = jsonschema.CompileString("https://microtask.dev/schemas/"+name+".json", string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// MustNewValidator is NewValidator for wiring code; the schemas are compiled
// into the binary so a failure is a programming error.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate rejects raw if it is not JSON or does not match the named schema.
func (v *Validator) Validate(name string, raw []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return apperr.Validation("invalid JSON: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return apperr.Validation("%s", describe(err))
	}
	return nil
}

// Decode reads the request body, validates it against the named schema and
// unmarshals it into dst.
func (v *Validator) Decode(r *http.Request, name string, dst any) error {
	if r.Body == nil {
		return apperr.Validation("empty request body")
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return apperr.Validation("read body: %v", err)
	}
	if len(raw) > MaxBodyBytes {
		return apperr.Validation("request body exceeds %d bytes", MaxBodyBytes)
	}
	if err := v.Validate(name, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("decode body: %v", err)
	}
	return nil
}

// describe flattens a schema failure into the innermost messages.
func describe(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var msgs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
