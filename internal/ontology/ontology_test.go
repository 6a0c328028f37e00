package ontology

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

const sampleOBO = `format-version: 1.2
ontology: cl

[Term]
id: CL:0000236
name: B cell
def: "A lymphocyte of B lineage." []

[Term]
id: CL:0000171 ! alpha
name: pancreatic A cell

[Term]
id: CL:0000000
name: retired cell
is_obsolete: true

[Typedef]
id: part_of
name: part of

[Term]
id: CL:0009999
name: B cell
`

func TestReadOBO(t *testing.T) {
	v, err := ReadOBO(strings.NewReader(sampleOBO))
	require.NoError(t, err)

	assert.Equal(t, []types.Term{
		{ID: "CL:0000236", Name: "B cell"},
		{ID: "CL:0000171", Name: "pancreatic A cell"},
		{ID: "CL:0009999", Name: "B cell"},
	}, v.Terms())
	assert.False(t, v.Contains("retired cell"))
	assert.False(t, v.Contains("part of"))
}

func TestReadOBOEmpty(t *testing.T) {
	_, err := ReadOBO(strings.NewReader("format-version: 1.2\n"))
	assert.ErrorIs(t, err, ErrNoTerms)
}

func TestReadTable(t *testing.T) {
	in := "ID,Name,definition\nCL:0000236,B cell,lymphocyte\nCL:0000084,T cell,\n"
	v, err := ReadTable(strings.NewReader(in), ',')
	require.NoError(t, err)
	assert.Equal(t, "CL:0000084", v.Lookup("T cell")[0].ID)

	_, err = ReadTable(strings.NewReader("label,iri\nx,y\n"), ',')
	assert.ErrorIs(t, err, ErrColumns)
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	obo := filepath.Join(dir, "cl.obo")
	tsv := filepath.Join(dir, "cl.tsv")
	require.NoError(t, os.WriteFile(obo, []byte(sampleOBO), 0o644))
	require.NoError(t, os.WriteFile(tsv, []byte("name\tid\nB cell\tCL:0000236\n"), 0o644))

	v, err := Load(obo)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Len())

	v, err = Load(tsv)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Len())

	_, err = Load(filepath.Join(dir, "none.obo"))
	assert.Error(t, err)
}
