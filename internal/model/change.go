package model

import "time"

// ChangeType enumerates the kinds of record-level changes tracked between runs.
type ChangeType string

const (
	ChangeNew         ChangeType = "new"
	ChangeUpdated     ChangeType = "updated"
	ChangeDeactivated ChangeType = "deactivated"
)

// FieldAll is the field_changed sentinel for "new" and "deactivated" events.
const FieldAll = "all"

// TrackedFields are the pharmacy fields compared between runs for change
// detection, in emission order.
var TrackedFields = []string{
	"organization_name",
	"dba_name",
	"address_line1",
	"city",
	"state",
	"zip",
	"phone",
	"is_chain",
	"is_independent",
	"chain_parent",
	"authorized_official_name",
}

// Change is one append-only change event detected by a pipeline run.
type Change struct {
	ID               int64      `json:"id"`
	NPI              string     `json:"npi"`
	OrganizationName string     `json:"organization_name"`
	Type             ChangeType `json:"change_type"`
	FieldChanged     string     `json:"field_changed"`
	OldValue         string     `json:"old_value"`
	NewValue         string     `json:"new_value"`
	DetectedAt       time.Time  `json:"detected_at"`
}

// FieldView returns the tracked-field values of p as strings, nil fields
// rendered as "". Booleans render as "true"/"false".
func (p *Pharmacy) FieldView() map[string]string {
	boolStr := func(b bool) string {
		if b {
			return "true"
		}
		return "false"
	}
	return map[string]string{
		"organization_name":        Deref(p.OrganizationName),
		"dba_name":                 Deref(p.DBAName),
		"address_line1":            Deref(p.AddressLine1),
		"city":                     Deref(p.City),
		"state":                    Deref(p.State),
		"zip":                      Deref(p.Zip),
		"phone":                    Deref(p.Phone),
		"is_chain":                 boolStr(p.IsChain),
		"is_independent":           boolStr(p.IsIndependent),
		"chain_parent":             Deref(p.ChainParent),
		"authorized_official_name": Deref(p.AuthorizedOfficialName),
	}
}
