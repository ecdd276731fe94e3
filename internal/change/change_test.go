package change

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharmacy-intel/internal/model"
)

var detectedAt = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func view(org, phone string) map[string]string {
	return map[string]string{
		"organization_name":        org,
		"dba_name":                 "",
		"address_line1":            "123 MAIN ST",
		"city":                     "KENT",
		"state":                    "OH",
		"zip":                      "44240",
		"phone":                    phone,
		"is_chain":                 "false",
		"is_independent":           "true",
		"chain_parent":             "",
		"authorized_official_name": "JANE SMITH",
	}
}

func TestDetectNewPharmacy(t *testing.T) {
	in := Inputs{
		Before: map[string]map[string]string{},
		After: map[string]map[string]string{
			"1234567890": view("MAIN STREET PHARMACY", "(330) 555-1234"),
		},
		Added: []string{"1234567890"},
		Seen:  map[string]bool{"1234567890": true},
	}

	changes := Detect(in, false, detectedAt)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeNew, changes[0].Type)
	assert.Equal(t, model.FieldAll, changes[0].FieldChanged)
	assert.Equal(t, "New pharmacy: MAIN STREET PHARMACY", changes[0].NewValue)
	assert.Equal(t, detectedAt, changes[0].DetectedAt)
}

func TestDetectUpdatedFieldPerDiff(t *testing.T) {
	before := view("MAIN STREET PHARMACY", "(330) 555-1234")
	after := view("MAIN STREET PHARMACY", "(330) 555-9999")
	after["city"] = "AKRON"

	in := Inputs{
		Before:  map[string]map[string]string{"1234567890": before},
		After:   map[string]map[string]string{"1234567890": after},
		Updated: []string{"1234567890"},
		Seen:    map[string]bool{"1234567890": true},
	}

	changes := Detect(in, false, detectedAt)
	require.Len(t, changes, 2)

	byField := map[string]model.Change{}
	for _, c := range changes {
		assert.Equal(t, model.ChangeUpdated, c.Type)
		byField[c.FieldChanged] = c
	}
	assert.Equal(t, "(330) 555-1234", byField["phone"].OldValue)
	assert.Equal(t, "(330) 555-9999", byField["phone"].NewValue)
	assert.Equal(t, "KENT", byField["city"].OldValue)
	assert.Equal(t, "AKRON", byField["city"].NewValue)
}

func TestDetectUnchangedEmitsNothing(t *testing.T) {
	v := view("MAIN STREET PHARMACY", "(330) 555-1234")
	in := Inputs{
		Before:  map[string]map[string]string{"1234567890": v},
		After:   map[string]map[string]string{"1234567890": v},
		Updated: []string{"1234567890"},
		Seen:    map[string]bool{"1234567890": true},
	}
	assert.Empty(t, Detect(in, false, detectedAt))
}

func TestDetectClassificationFlip(t *testing.T) {
	before := view("HOMETOWN DRUG", "(330) 555-1234")
	after := view("HOMETOWN DRUG", "(330) 555-1234")
	after["is_chain"] = "true"
	after["is_independent"] = "false"
	after["chain_parent"] = "Multi-Location Operator"

	in := Inputs{
		Before:  map[string]map[string]string{"1234567890": before},
		After:   map[string]map[string]string{"1234567890": after},
		Updated: []string{"1234567890"},
		Seen:    map[string]bool{"1234567890": true},
	}

	changes := Detect(in, false, detectedAt)
	assert.Len(t, changes, 3)
}

func TestDetectDeactivationsGated(t *testing.T) {
	in := Inputs{
		Before: map[string]map[string]string{
			"1234567890": view("MAIN STREET PHARMACY", "(330) 555-1234"),
			"9876543210": view("CVS PHARMACY #04211", "(330) 555-0000"),
		},
		After: map[string]map[string]string{
			"9876543210": view("CVS PHARMACY #04211", "(330) 555-0000"),
		},
		Updated: []string{"9876543210"},
		Seen:    map[string]bool{"9876543210": true},
	}

	// Default: absence emits nothing.
	assert.Empty(t, Detect(in, false, detectedAt))

	changes := Detect(in, true, detectedAt)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeDeactivated, changes[0].Type)
	assert.Equal(t, "1234567890", changes[0].NPI)
	assert.Equal(t, model.FieldAll, changes[0].FieldChanged)
	assert.Equal(t, "MAIN STREET PHARMACY", changes[0].OldValue)
}

func TestDetectDeterministicOrder(t *testing.T) {
	in := Inputs{
		Before: map[string]map[string]string{},
		After: map[string]map[string]string{
			"2000000000": view("B PHARMACY", "1"),
			"1000000000": view("A PHARMACY", "1"),
		},
		Added: []string{"2000000000", "1000000000"},
	}

	changes := Detect(in, false, detectedAt)
	require.Len(t, changes, 2)
	assert.Equal(t, "1000000000", changes[0].NPI)
	assert.Equal(t, "2000000000", changes[1].NPI)
}
