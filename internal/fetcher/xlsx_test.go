package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

type testSheet struct {
	name string
	rows [][]string
}

func createTestXLSX(t *testing.T, sheets ...testSheet) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "extract.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Sheet1", [][]string{
		{"V1", "V15", "V19"},
		{"001", "RUA SETE", "29010000"},
		{"002", "RUA OITO", "29020000"},
	}})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"V1", "V15", "V19"}, rows[0])
	assert.Equal(t, []string{"002", "RUA OITO", "29020000"}, rows[2])
}

func TestReadXLSX_SheetName(t *testing.T) {
	path := createTestXLSX(t,
		testSheet{"Resumo", [][]string{{"x"}}},
		testSheet{"Dados", [][]string{{"V1"}, {"001"}}},
	)

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "Dados"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"V1"}, {"001"}}, rows)
}

func TestReadXLSX_SheetIndex(t *testing.T) {
	path := createTestXLSX(t,
		testSheet{"Resumo", [][]string{{"x"}}},
		testSheet{"Dados", [][]string{{"V1"}, {"001"}}},
	)

	rows, err := ReadXLSX(path, XLSXOptions{SheetIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"V1"}, {"001"}}, rows)
}

func TestReadXLSX_SheetNameNotFound(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Sheet1", [][]string{{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Sheet1", [][]string{{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_MissingFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}
