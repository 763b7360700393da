package validator

// The CUE validator guards the two data contracts of the tool: the input
// handed to the Rego lint policies, and the JSON written for downstream
// tools. A field renamed on the Go side would otherwise reach OPA as
// undefined and rules would silently stop firing. A validation failure is
// a bug in the producer; fix the producer or the schema, never suppress it.

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource []byte

// Definitions in schema.cue.
const (
	LintInput = "#LintInput"
	Output    = "#Output"
	Report    = "#Report"
)

// Validator validates data against the embedded CUE schema.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// New creates a new Validator with the embedded CUE schema
func New() (*Validator, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource)
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling schema: %w", schema.Err())
	}

	return &Validator{
		ctx:    ctx,
		schema: schema,
	}, nil
}

// Validate checks that data, marshaled to JSON, conforms to the named
// definition.
func (v *Validator) Validate(def string, data interface{}) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data to JSON: %w", err)
	}
	return v.ValidateJSON(def, jsonBytes)
}

// ValidateJSON validates JSON bytes directly against the named definition.
func (v *Validator) ValidateJSON(def string, jsonBytes []byte) error {
	unified, err := v.unify(def, jsonBytes)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s validation failed: %w", def, err)
	}
	return nil
}

// ValidationErrors returns every validation error for data, one message
// per failing field.
func (v *Validator) ValidationErrors(def string, data interface{}) []string {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return []string{fmt.Sprintf("marshal error: %v", err)}
	}
	unified, err := v.unify(def, jsonBytes)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

func (v *Validator) unify(def string, jsonBytes []byte) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}

	schemaDef := v.schema.LookupPath(cue.ParsePath(def))
	if schemaDef.Err() != nil {
		return cue.Value{}, fmt.Errorf("looking up %s definition: %w", def, schemaDef.Err())
	}

	return schemaDef.Unify(dataValue), nil
}
