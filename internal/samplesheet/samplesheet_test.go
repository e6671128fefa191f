package samplesheet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_ValidSheet(t *testing.T) {
	t.Parallel()
	input := "sample,path,condition\nS1,s3://b/s1.fastq.gz,control\nS2,s3://b/s2.fastq.gz,treated\n"

	sheet, err := Parse(strings.NewReader(input), ',')
	require.NoError(t, err)
	require.Len(t, sheet.Rows, 2)
	require.Equal(t, "S1", sheet.Rows[0].Sample)
	require.Equal(t, "s3://b/s1.fastq.gz", sheet.Rows[0].Path)
	require.Equal(t, "treated", sheet.Rows[1].Extra["condition"])
}

func TestParse_TabSeparated(t *testing.T) {
	t.Parallel()
	input := "sample\tpath\nS1\t/data/s1.fastq.gz\n"
	sheet, err := Parse(strings.NewReader(input), '\t')
	require.NoError(t, err)
	require.Len(t, sheet.Rows, 1)
}

func TestParse_MissingRequiredColumn(t *testing.T) {
	t.Parallel()
	_, err := Parse(strings.NewReader("sample,reads\nS1,/x\n"), ',')
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing required column 'path'")
}

func TestParse_DuplicateSampleFails(t *testing.T) {
	t.Parallel()
	input := "sample,path\nS1,/a\nS1,/b\n"
	_, err := Parse(strings.NewReader(input), ',')
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate sample identifier 'S1'")
}

func TestParse_DuplicatePathFails(t *testing.T) {
	t.Parallel()
	input := "sample,path\nS1,/a\nS2,/a\n"
	_, err := Parse(strings.NewReader(input), ',')
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate source path '/a'")
}

func TestParse_ZeroRowsIsNotAnError(t *testing.T) {
	t.Parallel()
	sheet, err := Parse(strings.NewReader("sample,path\n"), ',')
	require.NoError(t, err)
	require.Empty(t, sheet.Rows)
}
