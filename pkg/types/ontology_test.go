package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVocabularyLookupKeepsEnumerationOrder(t *testing.T) {
	v := NewVocabulary([]Term{
		{ID: "CL:0000236", Name: "B cell"},
		{ID: "CL:0000084", Name: "T cell"},
		{ID: "CL:9999999", Name: "B cell"},
	})

	assert.Equal(t, 3, v.Len())
	assert.True(t, v.Contains("B cell"))
	assert.False(t, v.Contains("b cell"))
	assert.Equal(t, []Term{
		{ID: "CL:0000236", Name: "B cell"},
		{ID: "CL:9999999", Name: "B cell"},
	}, v.Lookup("B cell"))
	assert.Empty(t, v.Lookup("not_a_real_celltype"))
}

func TestVocabularyIsImmutable(t *testing.T) {
	terms := []Term{{ID: "CL:0000236", Name: "B cell"}}
	v := NewVocabulary(terms)
	terms[0].Name = "mutated"

	got := v.Terms()
	got[0].ID = "mutated"

	assert.True(t, v.Contains("B cell"))
	assert.Equal(t, "CL:0000236", v.Lookup("B cell")[0].ID)
}
