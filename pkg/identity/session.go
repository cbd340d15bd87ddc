package identity

import (
	"fmt"

	"github.com/dan-solli/gomask/pkg/metrics"
	"github.com/dan-solli/gomask/pkg/similarity"
	"github.com/dan-solli/gomask/pkg/store"
)

// session is the state of one Resolve call: the freshly loaded store, its
// cluster log and a live lookup index. It is discarded unless persisted.
type session struct {
	st       *store.Store
	clusters store.ClusterLog
	index    store.LookupIndex
	order    []string // person ids in creation order
}

func newSession(st *store.Store, clusters store.ClusterLog) *session {
	return &session{
		st:       st,
		clusters: clusters,
		index:    store.BuildIndex(st),
		order:    st.PersonIDs(),
	}
}

// match returns the person the groups belong to and how it was found. When
// nothing matches it returns "" and MatchNew; merge allocates the person once
// it has a value to store. Both passes are first-match in a fixed order, not
// best-match.
func (s *session) match(groups []group, threshold int) (string, string) {
	for _, category := range exactCategories {
		for _, v := range valuesFor(groups, category) {
			if id, ok := s.index.Lookup(v); ok {
				return id, metrics.MatchExact
			}
		}
	}

	for _, name := range valuesFor(groups, nameCategory) {
		for _, id := range s.order {
			for _, e := range s.st.Persons[id][nameCategory].Ordered() {
				if similarity.Within(name, e.Value, threshold) {
					s.clusters.Append(id, fmt.Sprintf("Fuzzy matched '%s' with '%s'", name, e.Value))
					return id, metrics.MatchFuzzy
				}
			}
		}
	}

	return "", metrics.MatchNew
}

// newPerson allocates the next person id and makes it visible to fuzzy
// matching for the rest of the batch.
func (s *session) newPerson() string {
	id := s.st.NextPersonID()
	s.st.AddPerson(id)
	s.order = append(s.order, id)
	return id
}

// merge stores every value of groups that has no home yet under personID and
// records a placeholder for every value in out. An empty personID is created
// on the first value stored, so a person whose values all live elsewhere
// leaves no record. Returns the person id ("" if none) and the number of
// values added.
func (s *session) merge(personID string, groups []group, out map[string]string) (string, int) {
	person := s.st.Persons[personID]
	added := 0
	for _, g := range groups {
		var entries store.Entries
		if person != nil {
			entries = person[g.cat.Storage]
		}
		for _, v := range g.values {
			if ph, ok := entries.PlaceholderFor(v); ok {
				out[v] = ph
				continue
			}
			if ph, ok := s.existing(v, g.cat.Storage); ok {
				out[v] = ph
				continue
			}

			if personID == "" {
				personID = s.newPerson()
				person = s.st.Persons[personID]
			}
			if entries == nil {
				entries = make(store.Entries)
				person[g.cat.Storage] = entries
			}
			ph, _ := nextFree(entries, func(n int) string {
				return store.PersonPlaceholder(personID, g.cat.Tag, n)
			}, len(entries))
			entries[ph] = v
			s.index.Update(v, personID)
			out[v] = ph
			added++
		}
	}
	return personID, added
}

// addUnlinked stores unlinked values that have no home yet, allocating from
// the persisted per-type counters. Returns the number of values added.
func (s *session) addUnlinked(groups []group, out map[string]string) int {
	counters := s.st.Metadata.UnlinkedCounters
	added := 0
	for _, g := range groups {
		entries := s.st.Unlinked[g.cat.Type]
		for _, v := range g.values {
			if ph, ok := entries.PlaceholderFor(v); ok {
				out[v] = ph
				continue
			}
			if ph, ok := s.existing(v, g.cat.Storage); ok {
				out[v] = ph
				continue
			}

			if entries == nil {
				entries = make(store.Entries)
				s.st.Unlinked[g.cat.Type] = entries
			}
			ph, n := nextFree(entries, func(n int) string {
				return store.UnlinkedPlaceholder(g.cat.Tag, n)
			}, counters[g.cat.Tag])
			entries[ph] = v
			counters[g.cat.Tag] = n + 1
			out[v] = ph
			added++
		}
	}
	return added
}

// existing finds a placeholder already allocated for v anywhere in the store,
// so a raw value keeps exactly one home.
func (s *session) existing(v, storage string) (string, bool) {
	if owner, ok := s.index.Lookup(v); ok {
		if ph, ok := s.st.Persons[owner].PlaceholderFor(storage, v); ok {
			return ph, true
		}
	}
	return s.st.UnlinkedPlaceholderFor(v)
}

// nextFree renders placeholders from index n upwards until one is unused and
// returns it with its index. Only an edited store file can make the first
// candidate collide.
func nextFree(entries store.Entries, render func(int) string, n int) (string, int) {
	for {
		ph := render(n)
		if _, taken := entries[ph]; !taken {
			return ph, n
		}
		n++
	}
}
