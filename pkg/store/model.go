// Package store provides the persisted identity store, its derived lookup
// index, the cluster audit log, the cross-process file lock and the SQLite
// document archive.
package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SchemaVersion is written into every saved store.
const SchemaVersion = 1

// personIDPrefix prefixes every allocated person id.
const personIDPrefix = "PERSON_"

// Entries maps a placeholder to the raw PII value it stands for.
// Placeholders and raw values are each unique within one Entries map.
type Entries map[string]string

// Person maps a plural category name (names, emails, ...) to its entries.
type Person map[string]Entries

// Metadata holds allocation counters that must survive restarts.
type Metadata struct {
	// LastPersonIndex is the last n used for PERSON_<n>; -1 when none allocated.
	LastPersonIndex int `json:"last_person_index"`

	// UnlinkedCounters maps an uppercase PII type to the next unlinked index.
	UnlinkedCounters map[string]int `json:"unlinked_pii_counters"`
}

// Store is the in-memory form of the identity store file.
// The JSON layout keeps each placeholder adjacent to its raw value so a
// reverse map can be rebuilt from the file alone.
type Store struct {
	SchemaVersion int                `json:"schema_version"`
	Persons       map[string]Person  `json:"persons"`
	Unlinked      map[string]Entries `json:"unlinked_pii"`
	Metadata      Metadata           `json:"_metadata"`
}

// Counts summarizes store size for metrics and logs.
type Counts struct {
	Persons        int64
	PersonEntries  int64
	UnlinkedValues int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		SchemaVersion: SchemaVersion,
		Persons:       make(map[string]Person),
		Unlinked:      make(map[string]Entries),
		Metadata: Metadata{
			LastPersonIndex:  -1,
			UnlinkedCounters: make(map[string]int),
		},
	}
}

// normalize fills nil maps left by a partial or older file.
func (s *Store) normalize() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
	if s.Persons == nil {
		s.Persons = make(map[string]Person)
	}
	for id, p := range s.Persons {
		if p == nil {
			s.Persons[id] = make(Person)
		}
	}
	if s.Unlinked == nil {
		s.Unlinked = make(map[string]Entries)
	}
	if s.Metadata.UnlinkedCounters == nil {
		s.Metadata.UnlinkedCounters = make(map[string]int)
	}
	// A file without _metadata (or with a stale counter) must not hand out
	// an id that is already taken.
	for id := range s.Persons {
		if n, ok := personIndex(id); ok && n > s.Metadata.LastPersonIndex {
			s.Metadata.LastPersonIndex = n
		}
	}
}

// NextPersonID allocates the next unused PERSON_<n> id. The increment lives
// in memory only until the store is saved.
func (s *Store) NextPersonID() string {
	for {
		s.Metadata.LastPersonIndex++
		id := FormatPersonID(s.Metadata.LastPersonIndex)
		if _, taken := s.Persons[id]; !taken {
			return id
		}
	}
}

// FormatPersonID renders the id for index n.
func FormatPersonID(n int) string {
	return personIDPrefix + strconv.Itoa(n)
}

// PersonIDs returns person ids in creation order. Ids are allocated in
// strictly increasing order, so creation order is numeric suffix order.
// Ids that do not parse (external edits) sort last, lexically.
func (s *Store) PersonIDs() []string {
	ids := make([]string, 0, len(s.Persons))
	for id := range s.Persons {
		ids = append(ids, id)
	}
	sortByIndex(ids, personIndex)
	return ids
}

// personIndex parses the n of PERSON_<n>.
func personIndex(id string) (int, bool) {
	if !strings.HasPrefix(id, personIDPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, personIDPrefix))
	return n, err == nil
}

// AddPerson creates an empty person record under id.
func (s *Store) AddPerson(id string) Person {
	p := make(Person)
	s.Persons[id] = p
	return p
}

// Entry is one placeholder/value pair.
type Entry struct {
	Placeholder string
	Value       string
}

// Ordered returns entries in allocation order: by the numeric index that
// ends every generated placeholder, then lexically.
func (e Entries) Ordered() []Entry {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sortByIndex(keys, placeholderIndex)
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = Entry{Placeholder: k, Value: e[k]}
	}
	return out
}

// PlaceholderFor returns the placeholder stored for value, if any.
func (e Entries) PlaceholderFor(value string) (string, bool) {
	for ph, v := range e {
		if v == value {
			return ph, true
		}
	}
	return "", false
}

// Categories returns the person's category names sorted.
func (p Person) Categories() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PlaceholderFor looks value up in category first, then in every other
// category of the person.
func (p Person) PlaceholderFor(category, value string) (string, bool) {
	if ph, ok := p[category].PlaceholderFor(value); ok {
		return ph, true
	}
	for _, name := range p.Categories() {
		if name == category {
			continue
		}
		if ph, ok := p[name].PlaceholderFor(value); ok {
			return ph, true
		}
	}
	return "", false
}

// UnlinkedPlaceholderFor finds value among unlinked entries of any type.
func (s *Store) UnlinkedPlaceholderFor(value string) (string, bool) {
	types := make([]string, 0, len(s.Unlinked))
	for t := range s.Unlinked {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if ph, ok := s.Unlinked[t].PlaceholderFor(value); ok {
			return ph, true
		}
	}
	return "", false
}

// Counts returns the number of persons and stored values.
func (s *Store) Counts() Counts {
	var c Counts
	c.Persons = int64(len(s.Persons))
	for _, p := range s.Persons {
		for _, entries := range p {
			c.PersonEntries += int64(len(entries))
		}
	}
	for _, entries := range s.Unlinked {
		c.UnlinkedValues += int64(len(entries))
	}
	return c
}

// PersonPlaceholder renders [<PERSON_ID>_<TAG>_<index>].
func PersonPlaceholder(personID, tag string, index int) string {
	return fmt.Sprintf("[%s_%s_%d]", personID, tag, index)
}

// UnlinkedPlaceholder renders [UNMATCHED_<TAG>_<index>].
func UnlinkedPlaceholder(tag string, index int) string {
	return fmt.Sprintf("[UNMATCHED_%s_%d]", tag, index)
}

// placeholderIndex extracts the trailing _<n> of a placeholder.
func placeholderIndex(ph string) (int, bool) {
	ph = strings.TrimSuffix(strings.TrimPrefix(ph, "["), "]")
	i := strings.LastIndexByte(ph, '_')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(ph[i+1:])
	return n, err == nil
}

// sortByIndex orders keys by a parsed numeric index; unparsable keys go last.
func sortByIndex(keys []string, index func(string) (int, bool)) {
	sort.SliceStable(keys, func(i, j int) bool {
		ni, oki := index(keys[i])
		nj, okj := index(keys[j])
		switch {
		case oki && okj:
			if ni != nj {
				return ni < nj
			}
			return keys[i] < keys[j]
		case oki != okj:
			return oki
		default:
			return keys[i] < keys[j]
		}
	})
}
