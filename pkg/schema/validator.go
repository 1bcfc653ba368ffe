// Package schema validates operation payloads against JSON Schema documents,
// caching compiled schemas by document identity.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator compiles and caches JSON schemas. The zero value is ready to use.
type Validator struct {
	cache sync.Map // schema digest -> *jsonschema.Schema
}

func NewValidator() *Validator { return &Validator{} }

// ValidationError aggregates every instance-path failure of one validation.
type ValidationError struct {
	Issues []Issue
}

// Issue is a single {instancePath: message} pair.
type Issue struct {
	InstancePath string
	Message      string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		path := issue.InstancePath
		if path == "" {
			path = "/"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", path, issue.Message))
	}
	return "payload validation failed: " + strings.Join(parts, "; ")
}

// Validate checks payload against the schema document. The payload is
// normalized through a JSON round trip so structs and typed maps validate
// the same as decoded request bodies.
func (v *Validator) Validate(schemaDoc string, payload any) error {
	compiled, err := v.compile(schemaDoc)
	if err != nil {
		return err
	}

	normalized, err := normalize(payload)
	if err != nil {
		return fmt.Errorf("encode payload for validation: %w", err)
	}

	if err := compiled.Validate(normalized); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &ValidationError{Issues: collectIssues(ve)}
		}
		return err
	}
	return nil
}

func (v *Validator) compile(doc string) (*jsonschema.Schema, error) {
	digest := sha256.Sum256([]byte(doc))
	key := hex.EncodeToString(digest[:])

	if cached, ok := v.cache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://conduit.schemas.local/payload/%s.schema.json", key[:16])
	if err := c.AddResource(schemaURL, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}

	v.cache.Store(key, compiled)
	return compiled, nil
}

func collectIssues(ve *jsonschema.ValidationError) []Issue {
	out := ve.BasicOutput()
	issues := make([]Issue, 0, len(out.Errors))
	for _, unit := range out.Errors {
		if unit.Error == "" || strings.HasPrefix(unit.Error, "doesn't validate with") {
			continue
		}
		issues = append(issues, Issue{
			InstancePath: unit.InstanceLocation,
			Message:      unit.Error,
		})
	}
	if len(issues) == 0 {
		issues = append(issues, Issue{InstancePath: ve.InstanceLocation, Message: ve.Message})
	}
	return issues
}

func normalize(payload any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
