// Package grouping decodes the responses of the external PII extraction and
// grouping services into the types the identity resolver consumes. It does
// not call those services.
package grouping

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/dan-solli/gomask/pkg/identity"
)

// ErrMalformedResponse is returned when a JSON payload was found but could not
// be decoded into the expected shape.
var ErrMalformedResponse = errors.New("malformed grouping response")

// Candidate is one flat PII finding produced by the extraction step, before
// grouping: {"type": "EmailAddress", "value": "a@x.com"}.
type Candidate struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Parser decodes service responses. The zero value is ready to use.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

// WithLogger sets the logger used for unknown-type warnings.
// Returns the same instance for chaining.
func (p *Parser) WithLogger(logger *slog.Logger) *Parser {
	p.logger = logger
	return p
}

// Parse is Parser.Parse with no logger.
func Parse(raw string) (identity.Batch, error) {
	return NewParser().Parse(raw)
}

// Parse locates the outermost JSON object in raw (services tend to wrap it in
// prose or code fences) and decodes it into a batch. No object at all yields
// an empty batch.
//
// Type names are canonicalized ("EmailAddress" and "emails" both become
// "email"). A scalar where a list is expected becomes a one-item list, numbers
// are stringified, and values are trimmed with blanks and duplicates dropped.
// A "persons" array is accepted too; its elements get keys person_1, person_2...
func (p *Parser) Parse(raw string) (identity.Batch, error) {
	body, ok := outermost(raw, '{', '}')
	if !ok {
		return identity.Batch{}, nil
	}

	var doc struct {
		Persons  json.RawMessage            `json:"persons"`
		Unlinked map[string]json.RawMessage `json:"unlinked_pii"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return identity.Batch{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	persons, err := decodePersons(doc.Persons)
	if err != nil {
		return identity.Batch{}, err
	}

	batch := identity.Batch{Persons: make(map[string]identity.PII, len(persons))}
	for key, fields := range persons {
		pii, err := decodePII(fields)
		if err != nil {
			return identity.Batch{}, fmt.Errorf("person %q: %w", key, err)
		}
		if len(pii) > 0 {
			batch.Persons[key] = pii
		}
	}

	unlinked, err := decodePII(doc.Unlinked)
	if err != nil {
		return identity.Batch{}, fmt.Errorf("unlinked_pii: %w", err)
	}
	if len(unlinked) > 0 {
		batch.Unlinked = unlinked
	}

	p.warnUnknown(batch)
	return batch, nil
}

// ParseCandidates locates the outermost JSON array in raw and decodes the
// flat candidate list. No array yields an empty list. Entries without a type
// or value are dropped.
func (p *Parser) ParseCandidates(raw string) ([]Candidate, error) {
	body, ok := outermost(raw, '[', ']')
	if !ok {
		return []Candidate{}, nil
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	out := make([]Candidate, 0, len(items))
	for i, item := range items {
		typ, err := scalarString(item["type"])
		if err != nil {
			return nil, fmt.Errorf("%w: candidate %d type: %w", ErrMalformedResponse, i, err)
		}
		value, err := scalarString(item["value"])
		if err != nil {
			return nil, fmt.Errorf("%w: candidate %d value: %w", ErrMalformedResponse, i, err)
		}
		if typ == "" || value == "" {
			continue
		}
		out = append(out, Candidate{Type: typ, Value: value})
	}
	return out, nil
}

// UnknownTypes returns the sorted, distinct types in batch that are outside
// identity.KnownTypes. They are still resolved; this only informs.
func UnknownTypes(batch identity.Batch) []string {
	seen := make(map[string]bool)
	note := func(pii identity.PII) {
		for t := range pii {
			if !identity.IsKnownType(t) {
				seen[t] = true
			}
		}
	}
	for _, pii := range batch.Persons {
		note(pii)
	}
	note(batch.Unlinked)

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (p *Parser) warnUnknown(batch identity.Batch) {
	if p.logger == nil {
		return
	}
	for _, t := range UnknownTypes(batch) {
		p.logger.Warn("unrecognized PII type, keeping as-is", "type", t)
	}
}

// outermost returns the text from the first open byte to the last end byte.
func outermost(raw string, open, end byte) (string, bool) {
	i := strings.IndexByte(raw, open)
	j := strings.LastIndexByte(raw, end)
	if i < 0 || j <= i {
		return "", false
	}
	return raw[i : j+1], true
}

func decodePersons(raw json.RawMessage) (map[string]map[string]json.RawMessage, error) {
	if isNull(raw) {
		return nil, nil
	}

	var byKey map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byKey); err == nil {
		return byKey, nil
	}

	var list []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: persons: %w", ErrMalformedResponse, err)
	}
	byKey = make(map[string]map[string]json.RawMessage, len(list))
	for i, fields := range list {
		byKey["person_"+strconv.Itoa(i+1)] = fields
	}
	return byKey, nil
}

// decodePII canonicalizes type names and normalizes values. Types that end up
// with no values are omitted.
func decodePII(fields map[string]json.RawMessage) (identity.PII, error) {
	types := make([]string, 0, len(fields))
	for t := range fields {
		types = append(types, t)
	}
	sort.Strings(types)

	out := make(identity.PII)
	for _, t := range types {
		cat, err := identity.NormalizeType(t)
		if err != nil {
			return nil, err
		}
		values, err := valueList(fields[t])
		if err != nil {
			return nil, fmt.Errorf("%w: type %q: %w", ErrMalformedResponse, t, err)
		}
		out[cat.Type] = appendUnique(out[cat.Type], values...)
	}

	for t, vs := range out {
		if len(vs) == 0 {
			delete(out, t)
		}
	}
	return out, nil
}

// valueList accepts a list of scalars or a single scalar.
func valueList(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s, serr := scalarString(raw)
		if serr != nil {
			return nil, serr
		}
		return appendUnique(nil, s), nil
	}

	var out []string
	for _, item := range items {
		s, err := scalarString(item)
		if err != nil {
			return nil, err
		}
		out = appendUnique(out, s)
	}
	return out, nil
}

// scalarString decodes a JSON string, number or bool as trimmed text.
func scalarString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}

	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("expected a scalar, got %T", v)
	}
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
