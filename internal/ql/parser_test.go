package ql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInsert(t *testing.T) {
	stmt, err := Parse("INSERT INTO the_table (foo) VALUES (bar);\n")
	require.NoError(t, err)
	require.Equal(t, KindInsert, stmt.Kind)
	require.Equal(t, "foo", stmt.Key)
	require.Equal(t, "bar", stmt.Value)
}

func TestParseDelete(t *testing.T) {
	stmt, err := Parse(`DELETE FROM the_table WHERE key = "foo";` + "\n")
	require.NoError(t, err)
	require.Equal(t, KindDelete, stmt.Kind)
	require.Equal(t, "foo", stmt.Key)
}

func TestParseSelect(t *testing.T) {
	stmt, err := Parse("SELECT foo FROM the_table;\n")
	require.NoError(t, err)
	require.Equal(t, KindSelect, stmt.Kind)
	require.Equal(t, "foo", stmt.Key)
}

func TestParseAllowsTrailingSpaceBeforeNewline(t *testing.T) {
	_, err := Parse("SELECT foo FROM the_table;   \n")
	require.NoError(t, err)
}

func TestParseRejectsMissingNewline(t *testing.T) {
	_, err := Parse("SELECT foo FROM the_table;")
	require.Error(t, err)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse("SELECT foo FROM the_table;\nextra")
	require.Error(t, err)
}

func TestParseRejectsWrongTable(t *testing.T) {
	_, err := Parse("SELECT foo FROM other_table;\n")
	require.Error(t, err)
}

func TestParseRejectsUnrecognizedStatement(t *testing.T) {
	_, err := Parse("UPDATE the_table SET key = \"foo\";\n")
	require.Error(t, err)
}

func TestParseInsertRequiresClosingParen(t *testing.T) {
	_, err := Parse("INSERT INTO the_table (foo VALUES (bar);\n")
	require.Error(t, err)
}
