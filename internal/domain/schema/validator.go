// Package schema structurally validates miner datasets before any semantic check runs.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/okian/veracity/internal/domain/model"
)

//go:embed record.schema.json
var recordSchema []byte

const recordSchemaURL = "token-record.json"

var missingPropertyRe = regexp.MustCompile(`'([^']+)'`)

// Validator checks records against the canonical TokenRecord shape.
// It is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// New compiles the embedded record schema.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.AssertFormat = true
	if err := c.AddResource(recordSchemaURL, bytes.NewReader(recordSchema)); err != nil {
		return nil, fmt.Errorf("add record schema: %w", err)
	}
	s, err := c.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// MustNew is New for package initialisation and tests.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate decodes a JSON array of records and validates each in order.
// The first offending record stops validation.
func (v *Validator) Validate(raw []byte) ([]model.TokenRecord, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ViolationError{Index: -1, Reason: "dataset must be a JSON array of records"}
	}
	out := make([]model.TokenRecord, 0, len(items))
	for i, item := range items {
		rec, err := v.validateOne(i, item)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ValidateRecords validates already-decoded, untyped records.
func (v *Validator) ValidateRecords(records []any) ([]model.TokenRecord, error) {
	out := make([]model.TokenRecord, 0, len(records))
	for i, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, &ViolationError{Index: i, Reason: "record is not JSON encodable"}
		}
		rec, err := v.validateOne(i, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Dataset validates a submission's records and stamps them with its envelope.
func (v *Validator) Dataset(sub model.Submission) (model.Dataset, error) {
	records, err := v.Validate(sub.Records)
	if err != nil {
		return model.Dataset{}, err
	}
	return model.Dataset{
		SubmissionID: sub.SubmissionID,
		MinerID:      sub.MinerID,
		ObservedAt:   sub.ObservedAt,
		Records:      records,
	}, nil
}

func (v *Validator) validateOne(index int, raw json.RawMessage) (model.TokenRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return model.TokenRecord{}, &ViolationError{Index: index, Reason: "record is not valid JSON"}
	}
	if err := v.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return model.TokenRecord{}, &ViolationError{Index: index, Reason: err.Error()}
		}
		field, reason := firstViolation(ve)
		return model.TokenRecord{}, &ViolationError{Index: index, Field: field, Reason: reason}
	}
	var rec model.TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.TokenRecord{}, &ViolationError{Index: index, Reason: err.Error()}
	}
	return rec, nil
}

// firstViolation picks a deterministic leaf: jsonschema reports property
// failures in map order, so leaves are sorted by instance then keyword path.
func firstViolation(root *jsonschema.ValidationError) (string, string) {
	var leaves []*jsonschema.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(root)
	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].KeywordLocation < leaves[j].KeywordLocation
	})
	leaf := leaves[0]
	field := pointerToField(leaf.InstanceLocation)
	if strings.HasSuffix(leaf.KeywordLocation, "/required") {
		if m := missingPropertyRe.FindStringSubmatch(leaf.Message); m != nil {
			field = joinField(field, m[1])
		}
	}
	return field, leaf.Message
}

// pointerToField turns "/tweet/images/0" into "tweet.images[0]".
func pointerToField(ptr string) string {
	if ptr == "" || ptr == "/" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if isIndex(seg) {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
