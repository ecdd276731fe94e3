package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPharmacyType(t *testing.T) {
	p := Pharmacy{IsChain: true}
	assert.Equal(t, "Chain", p.Type())

	p = Pharmacy{IsIndependent: true}
	assert.Equal(t, "Independent", p.Type())

	p = Pharmacy{IsInstitutional: true}
	assert.Equal(t, "Other", p.Type())
}

func TestFieldViewCoversTrackedFields(t *testing.T) {
	p := Pharmacy{NPI: "1234567890", IsIndependent: true}
	view := p.FieldView()

	assert.Len(t, view, len(TrackedFields))
	for _, f := range TrackedFields {
		_, ok := view[f]
		assert.True(t, ok, "missing tracked field %s", f)
	}
	assert.Equal(t, "true", view["is_independent"])
	assert.Equal(t, "false", view["is_chain"])
	assert.Equal(t, "", view["organization_name"])
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunPending.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunCompleted.Terminal())
	assert.True(t, RunFailed.Terminal())
}
