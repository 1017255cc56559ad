package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTemplate = `
current_term = "T2"

[[terms]]
id = "T1"
name = "Primer Trimestre"
weight = 0.3

[[terms]]
id = "T2"
name = "Segundo Trimestre"
weight = 0.3

[[terms]]
id = "T3"
name = "Tercer Trimestre"
weight = 0.4

[[categories]]
term = "T1"
id = "ser"
name = "Ser"
weight = 0.1

[scoring]
rounding = "floor"
decimals = 1
max_score = 100.0

[history]
limit = 50
`

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gradebook.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTemplate), 0o600))

	tpl, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "T2", tpl.CurrentTerm)
	require.Len(t, tpl.Terms, 3)
	assert.Equal(t, 0.4, tpl.Terms[2].Weight)
	require.Len(t, tpl.Categories, 1)
	assert.Equal(t, "floor", tpl.Scoring.Rounding)
	require.NotNil(t, tpl.Scoring.Decimals)
	assert.Equal(t, 1, *tpl.Scoring.Decimals)
	assert.Nil(t, tpl.Scoring.MinScore)
	assert.Equal(t, 50, tpl.History.Limit)
}

func TestLoadTemplateEmptyPath(t *testing.T) {
	tpl, err := LoadTemplate("")
	require.NoError(t, err)
	assert.Empty(t, tpl.Terms)
}

func TestParseTemplateRejectsBadTerms(t *testing.T) {
	_, err := ParseTemplate([]byte("[[terms]]\nid = \"T1\"\n[[terms]]\nid = \"T1\"\n"))
	assert.Error(t, err)

	_, err = ParseTemplate([]byte("[[terms]]\nid = \"T1\"\n[[categories]]\nterm = \"T9\"\nid = \"x\"\n"))
	assert.Error(t, err)

	_, err = ParseTemplate([]byte("current_term = "))
	assert.Error(t, err)
}
