package store

// LookupIndex maps a raw PII value to the person that owns it.
// It is derived from Store.Persons and never persisted.
type LookupIndex map[string]string

// BuildIndex walks every person in creation order. If a value is (abnormally)
// stored under two persons, the later person wins.
func BuildIndex(s *Store) LookupIndex {
	idx := make(LookupIndex)
	for _, id := range s.PersonIDs() {
		p := s.Persons[id]
		for _, category := range p.Categories() {
			for _, e := range p[category].Ordered() {
				idx[e.Value] = id
			}
		}
	}
	return idx
}

// Update inserts or overwrites a single mapping.
func (idx LookupIndex) Update(value, personID string) {
	idx[value] = personID
}

// Lookup returns the person owning value.
func (idx LookupIndex) Lookup(value string) (string, bool) {
	id, ok := idx[value]
	return id, ok
}
