package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharmacy-intel/internal/model"
)

func TestClassifyNamedChain(t *testing.T) {
	tables := Default()

	res := tables.Classify("CVS PHARMACY #04211", "")
	assert.True(t, res.IsChain)
	assert.False(t, res.IsIndependent)
	require.NotNil(t, res.ChainParent)
	assert.Equal(t, "CVS", *res.ChainParent)

	res = tables.Classify("WALGREEN CO", "")
	require.NotNil(t, res.ChainParent)
	assert.Equal(t, "WALGREENS", *res.ChainParent)

	res = tables.Classify("SOMETHING ELSE", "RITE AID #123")
	require.NotNil(t, res.ChainParent, "dba name must also match")
	assert.Equal(t, "RITE AID", *res.ChainParent)
}

func TestClassifyGenericIndicator(t *testing.T) {
	tables := Default()

	res := tables.Classify("SHOPRITE PHARMACY OF HOBOKEN", "")
	assert.True(t, res.IsChain)
	assert.False(t, res.IsIndependent)
	assert.Nil(t, res.ChainParent, "generic indicators assign no parent")
}

func TestClassifyIndependent(t *testing.T) {
	tables := Default()

	res := tables.Classify("SMITH FAMILY PHARMACY LLC", "")
	assert.False(t, res.IsChain)
	assert.True(t, res.IsIndependent)
	assert.False(t, res.IsInstitutional)
	assert.Nil(t, res.ChainParent)
}

func TestClassifyInstitutionalOrthogonal(t *testing.T) {
	tables := Default()

	// Institutional and independent at once.
	res := tables.Classify("COUNTY HOSPITAL PHARMACY", "")
	assert.True(t, res.IsInstitutional)
	assert.True(t, res.IsIndependent)
	assert.False(t, res.IsChain)

	// Institutional and chain at once.
	res = tables.Classify("OMNICARE LONG-TERM CARE PHARMACY", "")
	assert.True(t, res.IsInstitutional)
	assert.True(t, res.IsChain)
}

func TestClassifyMutualExclusivity(t *testing.T) {
	tables := Default()
	names := []string{
		"CVS PHARMACY", "WALMART PHARMACY 10-1234", "MAIN ST PHARMACY",
		"KROGER PHARMACY", "VILLAGE APOTHECARY", "SHOPRITE PHARMACY",
	}
	for _, name := range names {
		res := tables.Classify(name, "")
		assert.NotEqual(t, res.IsChain, res.IsIndependent,
			"exactly one of chain/independent for %q", name)
	}
}

func TestClassifyWordBoundaries(t *testing.T) {
	tables := Default()

	// TARGET must not match inside a longer word.
	res := tables.Classify("TARGETED WELLNESS PHARMACY", "")
	assert.False(t, res.IsChain)

	res = tables.Classify("TARGET PHARMACY", "")
	assert.True(t, res.IsChain)
}

func TestLoadFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	yaml := `
named_chains:
  - name: ACME
    pattern: \bACME\b
chain_indicators:
  - \bMEGACORP\b
institutional:
  - \bCLINIC\b
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	tables, err := LoadFile(path)
	require.NoError(t, err)

	res := tables.Classify("ACME DRUGS", "")
	require.NotNil(t, res.ChainParent)
	assert.Equal(t, "ACME", *res.ChainParent)

	// Built-ins are replaced, not merged.
	res = tables.Classify("CVS PHARMACY", "")
	assert.False(t, res.IsChain)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile("/nonexistent/patterns.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("{}"), 0644))
	_, err = LoadFile(empty)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("named_chains:\n  - name: X\n    pattern: '['\n"), 0644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}

func TestOwnership(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"SMITH PHARMACY LLC", model.OwnershipLLC},
		{"SMITH PHARMACY PLLC", model.OwnershipLLC}, // LLC rule fires first
		{"JONES DRUGS INC", model.OwnershipCorporation},
		{"JONES DRUGS INCORPORATED", model.OwnershipCorporation},
		{"ADAMS & BELL LLP", model.OwnershipPartnership},
		{"ADAMS PARTNERSHIP", model.OwnershipPartnership},
		{"CARTER PHARMACY PC", model.OwnershipProfCorp},
		{"MAIN STREET DRUGS", model.OwnershipUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Ownership(tt.name), "Ownership(%q)", tt.name)
	}
}
