// Package ontology loads controlled cell-type vocabularies. Two formats are
// read: OBO flat files as published for the Cell Ontology, and delimited
// tables with name and id columns. Term order follows the source file.
package ontology

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/tabula/internal/tabular"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

// Loader errors.
var (
	ErrNoTerms = errors.New("vocabulary has no terms")
	ErrColumns = errors.New("vocabulary table needs name and id columns")
)

// ReadOBO parses [Term] stanzas, keeping terms that have both an id and a
// name and are not marked obsolete. Other stanza types are skipped.
func ReadOBO(r io.Reader) (*types.Vocabulary, error) {
	var (
		terms    []types.Term
		cur      types.Term
		inTerm   bool
		obsolete bool
	)
	flush := func() {
		if inTerm && !obsolete && cur.ID != "" && cur.Name != "" {
			terms = append(terms, cur)
		}
		cur = types.Term{}
		obsolete = false
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			inTerm = line == "[Term]"
			continue
		}
		if !inTerm {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "id":
			cur.ID = stripComment(value)
		case "name":
			cur.Name = value
		case "is_obsolete":
			obsolete = value == "true"
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning obo: %w", err)
	}
	flush()

	if len(terms) == 0 {
		return nil, ErrNoTerms
	}
	return types.NewVocabulary(terms), nil
}

// ReadTable parses a delimited table whose header names a "name" and an "id"
// column, in any position and case.
func ReadTable(r io.Reader, comma rune) (*types.Vocabulary, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	nameCol, idCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name":
			nameCol = i
		case "id":
			idCol = i
		}
	}
	if nameCol < 0 || idCol < 0 {
		return nil, ErrColumns
	}

	var terms []types.Term
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		terms = append(terms, types.Term{
			ID:   strings.TrimSpace(rec[idCol]),
			Name: strings.TrimSpace(rec[nameCol]),
		})
	}
	if len(terms) == 0 {
		return nil, ErrNoTerms
	}
	return types.NewVocabulary(terms), nil
}

// Load reads a vocabulary file, choosing the format from its extension:
// .obo files are OBO, anything else a delimited table.
func Load(path string) (*types.Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var v *types.Vocabulary
	if strings.EqualFold(filepath.Ext(path), ".obo") {
		v, err = ReadOBO(f)
	} else {
		v, err = ReadTable(f, tabular.Comma(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func stripComment(v string) string {
	if i := strings.Index(v, " !"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
