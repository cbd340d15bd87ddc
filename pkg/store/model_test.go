package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPersonID_Increments(t *testing.T) {
	s := New()
	assert.Equal(t, "PERSON_0", s.NextPersonID())
	assert.Equal(t, "PERSON_1", s.NextPersonID())
	assert.Equal(t, 1, s.Metadata.LastPersonIndex)
}

func TestNextPersonID_SkipsTakenIDs(t *testing.T) {
	s := New()
	s.AddPerson("PERSON_0")
	s.AddPerson("PERSON_1")
	assert.Equal(t, "PERSON_2", s.NextPersonID())
}

func TestNormalize_RaisesStaleLastPersonIndex(t *testing.T) {
	s := New()
	s.Persons["PERSON_4"] = Person{}
	s.Persons["custom"] = Person{}
	s.Metadata.LastPersonIndex = 1

	s.normalize()
	assert.Equal(t, 4, s.Metadata.LastPersonIndex)
	assert.Equal(t, "PERSON_5", s.NextPersonID())
}

func TestPersonIDs_NumericOrder(t *testing.T) {
	s := New()
	for _, id := range []string{"PERSON_10", "PERSON_2", "custom", "PERSON_0", "PERSON_1"} {
		s.AddPerson(id)
	}
	assert.Equal(t, []string{"PERSON_0", "PERSON_1", "PERSON_2", "PERSON_10", "custom"}, s.PersonIDs())
}

func TestEntries_OrderedByPlaceholderIndex(t *testing.T) {
	e := Entries{
		"[PERSON_0_NAME_10]": "k",
		"[PERSON_0_NAME_2]":  "c",
		"[PERSON_0_NAME_0]":  "a",
		"odd":                "z",
	}
	got := e.Ordered()
	assert.Equal(t, []Entry{
		{"[PERSON_0_NAME_0]", "a"},
		{"[PERSON_0_NAME_2]", "c"},
		{"[PERSON_0_NAME_10]", "k"},
		{"odd", "z"},
	}, got)
}

func TestPerson_PlaceholderFor(t *testing.T) {
	p := Person{
		"names":  {"[PERSON_0_NAME_0]": "Ann"},
		"emails": {"[PERSON_0_EMAIL_0]": "ann@x.com"},
	}

	ph, ok := p.PlaceholderFor("emails", "ann@x.com")
	assert.True(t, ok)
	assert.Equal(t, "[PERSON_0_EMAIL_0]", ph)

	// Found through another category.
	ph, ok = p.PlaceholderFor("phones", "Ann")
	assert.True(t, ok)
	assert.Equal(t, "[PERSON_0_NAME_0]", ph)

	_, ok = p.PlaceholderFor("names", "Bob")
	assert.False(t, ok)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "[PERSON_3_EMAIL_1]", PersonPlaceholder("PERSON_3", "EMAIL", 1))
	assert.Equal(t, "[UNMATCHED_ADDRESS_0]", UnlinkedPlaceholder("ADDRESS", 0))
}

func TestCounts(t *testing.T) {
	s := New()
	s.Persons["PERSON_0"] = Person{
		"names":  {"[PERSON_0_NAME_0]": "Ann", "[PERSON_0_NAME_1]": "Annie"},
		"emails": {"[PERSON_0_EMAIL_0]": "ann@x.com"},
	}
	s.Unlinked["address"] = Entries{"[UNMATCHED_ADDRESS_0]": "12 Main St"}

	assert.Equal(t, Counts{Persons: 1, PersonEntries: 3, UnlinkedValues: 1}, s.Counts())
}

func TestBuildIndex_LaterPersonWins(t *testing.T) {
	s := New()
	s.Persons["PERSON_1"] = Person{"emails": {"[PERSON_1_EMAIL_0]": "dup@x.com"}}
	s.Persons["PERSON_0"] = Person{
		"emails": {"[PERSON_0_EMAIL_0]": "dup@x.com"},
		"names":  {"[PERSON_0_NAME_0]": "Ann"},
	}

	idx := BuildIndex(s)

	id, ok := idx.Lookup("dup@x.com")
	assert.True(t, ok)
	assert.Equal(t, "PERSON_1", id)
	id, _ = idx.Lookup("Ann")
	assert.Equal(t, "PERSON_0", id)

	idx.Update("new@x.com", "PERSON_0")
	id, _ = idx.Lookup("new@x.com")
	assert.Equal(t, "PERSON_0", id)
}

func TestReverseMap(t *testing.T) {
	s := New()
	s.Persons["PERSON_0"] = Person{"names": {"[PERSON_0_NAME_0]": "Ann"}}
	s.Unlinked["phone"] = Entries{"[UNMATCHED_PHONE_0]": "555-0000"}

	assert.Equal(t, map[string]string{
		"[PERSON_0_NAME_0]":   "Ann",
		"[UNMATCHED_PHONE_0]": "555-0000",
	}, ReverseMap(s))
}
