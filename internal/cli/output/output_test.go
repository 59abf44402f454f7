package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"TABLE", FormatTable, false},
		{"json", FormatJSON, false},
		{" yml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPrint(t *testing.T) {
	t.Parallel()
	table := NewTableData("Extension", "Template")
	table.AddRow("docx", "https://word.example.com/edit.aspx")

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, table))
	assert.Contains(t, buf.String(), "EXTENSION")
	assert.Contains(t, buf.String(), "docx")

	buf.Reset()
	require.NoError(t, Print(&buf, FormatJSON, map[string]int{"clients": 2}))
	assert.JSONEq(t, `{"clients": 2}`, buf.String())

	buf.Reset()
	require.NoError(t, Print(&buf, FormatYAML, map[string]int{"clients": 2}))
	assert.Equal(t, "clients: 2\n", buf.String())

	buf.Reset()
	require.NoError(t, Print(&buf, FormatTable, map[string]bool{"ready": true}))
	assert.JSONEq(t, `{"ready": true}`, buf.String(), "non-table data falls back to JSON")
}

func TestPrintKeyValues(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	pairs := KeyValues{}.Add("File ID", "doc-1").Add("WOPISrc", "https://wopi.example.com/wopi/files/doc-1")

	require.NoError(t, PrintKeyValues(&buf, pairs))
	out := buf.String()
	assert.Contains(t, out, "File ID")
	assert.Contains(t, out, "https://wopi.example.com/wopi/files/doc-1")
}
