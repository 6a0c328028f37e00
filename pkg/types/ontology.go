package types

// Term is one concept of a controlled cell-type vocabulary.
type Term struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Vocabulary is an immutable, ordered set of ontology terms. Names are not
// guaranteed unique; the enumeration order of the source is kept so that
// lookups by name can break ties deterministically.
type Vocabulary struct {
	terms  []Term
	byName map[string][]int
}

// NewVocabulary copies terms into a new vocabulary.
func NewVocabulary(terms []Term) *Vocabulary {
	v := &Vocabulary{
		terms:  append([]Term(nil), terms...),
		byName: make(map[string][]int, len(terms)),
	}
	for i, t := range v.terms {
		v.byName[t.Name] = append(v.byName[t.Name], i)
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// Terms returns a copy of all terms in enumeration order.
func (v *Vocabulary) Terms() []Term {
	return append([]Term(nil), v.terms...)
}

// Contains reports whether some term has exactly this name.
func (v *Vocabulary) Contains(name string) bool {
	return len(v.byName[name]) > 0
}

// Lookup returns every term with exactly this name, in enumeration order.
func (v *Vocabulary) Lookup(name string) []Term {
	idx := v.byName[name]
	out := make([]Term, len(idx))
	for i, j := range idx {
		out[i] = v.terms[j]
	}
	return out
}
