package store

// ReverseMap builds placeholder -> raw value for every person and unlinked
// entry. It needs nothing beyond the persisted store.
func ReverseMap(s *Store) map[string]string {
	out := make(map[string]string)
	for _, p := range s.Persons {
		for _, entries := range p {
			for ph, v := range entries {
				out[ph] = v
			}
		}
	}
	for _, entries := range s.Unlinked {
		for ph, v := range entries {
			out[ph] = v
		}
	}
	return out
}
