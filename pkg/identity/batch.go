package identity

import (
	"fmt"
	"sort"
	"strings"
)

// PII maps a PII type name (name, email, ...) to the raw values observed.
type PII map[string][]string

// Batch is the grouped PII for one document, as produced by the upstream
// grouping collaborator.
type Batch struct {
	// Persons maps an arbitrary temporary key to one tentative person's PII.
	Persons map[string]PII `json:"persons"`

	// Unlinked holds PII that could not be attributed to any person.
	Unlinked PII `json:"unlinked_pii"`
}

// Empty reports whether the batch carries no values at all.
func (b Batch) Empty() bool {
	for _, p := range b.Persons {
		for _, vs := range p {
			if len(vs) > 0 {
				return false
			}
		}
	}
	for _, vs := range b.Unlinked {
		if len(vs) > 0 {
			return false
		}
	}
	return true
}

// Category is a normalized PII type.
type Category struct {
	Type    string // singular, lowercase: "email"
	Storage string // plural storage key: "emails"
	Tag     string // placeholder tag: "EMAIL"
}

// KnownTypes lists the canonical singular types the grouping step produces.
var KnownTypes = []string{"name", "email", "phone", "address", "nric", "ssn", "dob"}

var plurals = map[string]string{
	"name":    "names",
	"email":   "emails",
	"phone":   "phones",
	"address": "addresses",
	"nric":    "nrics",
	"ssn":     "ssns",
	"dob":     "dobs",
	"alias":   "aliases",
}

// aliases maps compacted collaborator vocabulary to canonical types.
var aliases = map[string]string{
	"names":                "name",
	"fullname":             "name",
	"emails":               "email",
	"emailaddress":         "email",
	"emailaddresses":       "email",
	"phones":               "phone",
	"phonenumber":          "phone",
	"phonenumbers":         "phone",
	"addresses":            "address",
	"physicaladdress":      "address",
	"physicaladdresses":    "address",
	"nrics":                "nric",
	"singaporenric":        "nric",
	"ssns":                 "ssn",
	"socialsecuritynumber": "ssn",
	"dobs":                 "dob",
	"dateofbirth":          "dob",
	"aliases":              "alias",
}

// IsKnownType reports whether t normalizes to one of KnownTypes.
func IsKnownType(t string) bool {
	c, err := NormalizeType(t)
	if err != nil {
		return false
	}
	for _, known := range KnownTypes {
		if c.Type == known {
			return true
		}
	}
	return false
}

// NormalizeType maps any spelling of a PII type to its Category. Singular and
// plural forms ("email", "emails", "EmailAddress") land on the same category.
// Unrecognized types pass through: a trailing "s" is read as a plural marker.
func NormalizeType(t string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(t))
	if key == "" {
		return Category{}, fmt.Errorf("%w: empty PII type", ErrInvalidBatch)
	}
	compact := strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)

	singular := key
	if canonical, ok := aliases[compact]; ok {
		singular = canonical
	} else if _, ok := plurals[compact]; ok {
		singular = compact
	}

	plural, ok := plurals[singular]
	if !ok {
		singular = strings.ReplaceAll(singular, " ", "_")
		if strings.HasSuffix(singular, "s") && len(singular) > 1 {
			plural = singular
			singular = strings.TrimSuffix(singular, "s")
		} else {
			plural = singular + "s"
		}
	}

	return Category{
		Type:    singular,
		Storage: plural,
		Tag:     strings.ToUpper(singular),
	}, nil
}

// group is one category with its values in input order.
type group struct {
	cat    Category
	values []string
}

// normalizePII folds the input into one group per category, sorted by
// storage key. Values keep their input order; blank values and in-group
// duplicates are dropped.
func normalizePII(p PII) ([]group, error) {
	types := make([]string, 0, len(p))
	for t := range p {
		types = append(types, t)
	}
	sort.Strings(types)

	byStorage := make(map[string]*group)
	seen := make(map[string]map[string]bool)
	var order []string
	for _, t := range types {
		cat, err := NormalizeType(t)
		if err != nil {
			return nil, err
		}
		g, ok := byStorage[cat.Storage]
		if !ok {
			g = &group{cat: cat}
			byStorage[cat.Storage] = g
			seen[cat.Storage] = make(map[string]bool)
			order = append(order, cat.Storage)
		}
		for _, v := range p[t] {
			if strings.TrimSpace(v) == "" || seen[cat.Storage][v] {
				continue
			}
			seen[cat.Storage][v] = true
			g.values = append(g.values, v)
		}
	}

	sort.Strings(order)
	out := make([]group, 0, len(order))
	for _, storage := range order {
		out = append(out, *byStorage[storage])
	}
	return out, nil
}

// valuesFor returns the values of the group stored under storage.
func valuesFor(groups []group, storage string) []string {
	for _, g := range groups {
		if g.cat.Storage == storage {
			return g.values
		}
	}
	return nil
}

// tentative is one normalized tentative person.
type tentative struct {
	key    string
	groups []group
}

// normalizeBatch validates the batch and fixes a deterministic order:
// persons by temporary key, categories by storage key.
func normalizeBatch(b Batch) ([]tentative, []group, error) {
	keys := make([]string, 0, len(b.Persons))
	for k := range b.Persons {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	persons := make([]tentative, 0, len(keys))
	for _, k := range keys {
		groups, err := normalizePII(b.Persons[k])
		if err != nil {
			return nil, nil, fmt.Errorf("person %q: %w", k, err)
		}
		persons = append(persons, tentative{key: k, groups: groups})
	}

	unlinked, err := normalizePII(b.Unlinked)
	if err != nil {
		return nil, nil, fmt.Errorf("unlinked: %w", err)
	}
	return persons, unlinked, nil
}
