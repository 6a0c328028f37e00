package pipeline

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tabula/internal/matrix"
	"github.com/mesh-intelligence/tabula/pkg/types"
)

func TestPlateBarcode(t *testing.T) {
	tests := []struct {
		cellID  string
		want    string
		wantErr bool
	}{
		{cellID: "A1.B000610.3_56_F.1.1", want: "B000610"},
		{cellID: "P9.MAA000400.3_10_M.1.1", want: "MAA000400"},
		{cellID: "X.Z.Y_rest", want: "Z"},
		{cellID: "X.Z_", want: "Z"},
		{cellID: "nodelimiters", wantErr: true},
		{cellID: "A1.B000610.3", wantErr: true},
		{cellID: "A1_B000610.3", wantErr: true},
		{cellID: "A1._x", wantErr: true},
		{cellID: "X_Y.Z_rest", wantErr: true},
		{cellID: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.cellID, func(t *testing.T) {
			got, err := PlateBarcode(tt.cellID)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrMalformedCellID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func samplePlates(t *testing.T) *types.PlateTable {
	t.Helper()
	plates, err := types.NewPlateTable([]string{"mouse.id", "mouse.sex"}, []types.PlateMetadata{
		{Barcode: "B001", Fields: map[string]string{"mouse.id": "3_8_M", "mouse.sex": "M"}},
		{Barcode: "B002", Fields: map[string]string{"mouse.id": "3_9_F", "mouse.sex": "F"}},
	})
	require.NoError(t, err)
	return plates
}

func buildMatrix(t *testing.T, cellIDs []string) *matrix.Matrix {
	t.Helper()
	var b strings.Builder
	b.WriteString("gene," + strings.Join(cellIDs, ",") + "\n")
	for g, gene := range []string{"Actb", "Rps4x", "Ins1"} {
		b.WriteString(gene)
		for c := range cellIDs {
			b.WriteString(",")
			b.WriteString(strings.Repeat("1", 1+(c+g)%3))
		}
		b.WriteString("\n")
	}
	m, err := matrix.Read(strings.NewReader(b.String()), matrix.ReadOptions{})
	require.NoError(t, err)
	return m
}

func TestMergeSortsAndJoins(t *testing.T) {
	ids := []string{
		"D4.B002.3_9_F.1.1",
		"A1.B001.3_8_M.1.1",
		"C3.B002.3_9_F.1.1",
		"B2.B001.3_8_M.1.1",
	}
	m := buildMatrix(t, ids)

	out, table, err := Merge("Pancreas", m, samplePlates(t), MergeOptions{RiboPrefixes: []string{"Rps"}})
	require.NoError(t, err)

	want := []string{"A1.B001.3_8_M.1.1", "B2.B001.3_8_M.1.1", "C3.B002.3_9_F.1.1", "D4.B002.3_9_F.1.1"}
	assert.Equal(t, want, table.CellIDs())
	assert.Equal(t, want, out.CellIDs(), "matrix cell axis follows the table")
	assert.Equal(t, ids, m.CellIDs(), "input matrix untouched")
	assert.Equal(t, "Pancreas", table.Tissue)

	c := table.Cells[2]
	assert.Equal(t, "B002", c.PlateBarcode)
	assert.Equal(t, "F", c.PlateFields["mouse.sex"])
	assert.Equal(t, 3, c.Metrics.NGenes)
	assert.Greater(t, c.Metrics.PercentRibo, 0.0)
	assert.Nil(t, c.ClusterID)
	assert.Nil(t, c.FreeAnnotation)

	col, _ := out.Column("C3.B002.3_9_F.1.1")
	orig, _ := m.Column("C3.B002.3_9_F.1.1")
	assert.Equal(t, orig, col)
}

func TestMergeOrderIsPermutationInvariant(t *testing.T) {
	ids := []string{
		"A1.B001.3_8_M.1.1", "A10.B001.3_8_M.1.1", "A2.B001.3_8_M.1.1",
		"B1.B002.3_9_F.1.1", "H12.B002.3_9_F.1.1", "C7.B001.3_8_M.1.1",
	}
	plates := samplePlates(t)
	rng := rand.New(rand.NewSource(42))

	var first []string
	for i := 0; i < 10; i++ {
		perm := append([]string(nil), ids...)
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		_, table, err := Merge("Pancreas", buildMatrix(t, perm), plates, MergeOptions{})
		require.NoError(t, err)
		require.Equal(t, len(ids), table.Len(), "no duplication or loss")

		got := table.CellIDs()
		for j := 1; j < len(got); j++ {
			require.Less(t, got[j-1], got[j], "strictly increasing")
		}
		if first == nil {
			first = got
		}
		assert.Equal(t, first, got)
	}
}

func TestMergeUnmatchedPlateFailsWithAllOffenders(t *testing.T) {
	ids := []string{"A1.B001.3_8_M.1.1", "A2.B404.3_8_M.1.1", "A3.B405.3_8_M.1.1"}
	out, table, err := Merge("Pancreas", buildMatrix(t, ids), samplePlates(t), MergeOptions{})

	assert.Nil(t, out)
	assert.Nil(t, table)
	require.ErrorIs(t, err, types.ErrMetadataJoin)
	var jerr *types.MetadataJoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, []string{"A2.B404.3_8_M.1.1", "A3.B405.3_8_M.1.1"}, jerr.CellIDs)
}

func TestMergeMalformedCellID(t *testing.T) {
	_, _, err := Merge("Pancreas", buildMatrix(t, []string{"A1.B001.3_8_M.1.1", "garbage"}), samplePlates(t), MergeOptions{})
	assert.ErrorIs(t, err, types.ErrMalformedCellID)
}

func TestMergeAlignsMatrixWithTable(t *testing.T) {
	ids := []string{"C7.B001.3_8_M.1.1", "A1.B001.3_8_M.1.1", "B1.B002.3_9_F.1.1"}
	m := buildMatrix(t, ids)

	out, table, err := Merge("Pancreas", m, samplePlates(t), MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1.B001.3_8_M.1.1", "B1.B002.3_9_F.1.1", "C7.B001.3_8_M.1.1"}, table.CellIDs())
	assert.Equal(t, table.CellIDs(), out.CellIDs())
	assert.Equal(t, ids, m.CellIDs(), "input matrix untouched")
}
