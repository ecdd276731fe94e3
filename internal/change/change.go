// Package change compares pharmacy state across pipeline runs and emits
// append-only change events.
package change

import (
	"fmt"
	"sort"
	"time"

	"github.com/sells-group/pharmacy-intel/internal/model"
)

// Inputs carries the before/after tracked-field snapshots plus the NPI sets
// the load stage reported.
type Inputs struct {
	Before  map[string]map[string]string // snapshot taken before the load
	After   map[string]map[string]string // snapshot taken after the load
	Added   []string                     // NPIs inserted this run
	Updated []string                     // NPIs updated this run
	Seen    map[string]bool              // every NPI present in the extract
}

// Detect emits one "new" event per added NPI, one "updated" event per
// differing tracked field per updated NPI, and, when emitDeactivations is
// set, one "deactivated" event per previously stored NPI absent from the
// extract. Events are ordered deterministically.
func Detect(in Inputs, emitDeactivations bool, now time.Time) []model.Change {
	var changes []model.Change

	added := append([]string(nil), in.Added...)
	sort.Strings(added)
	for _, npi := range added {
		view, ok := in.After[npi]
		if !ok {
			continue
		}
		org := view["organization_name"]
		changes = append(changes, model.Change{
			NPI:              npi,
			OrganizationName: org,
			Type:             model.ChangeNew,
			FieldChanged:     model.FieldAll,
			NewValue:         fmt.Sprintf("New pharmacy: %s", org),
			DetectedAt:       now,
		})
	}

	updated := append([]string(nil), in.Updated...)
	sort.Strings(updated)
	for _, npi := range updated {
		before, ok := in.Before[npi]
		if !ok {
			continue
		}
		after, ok := in.After[npi]
		if !ok {
			continue
		}
		for _, field := range model.TrackedFields {
			oldVal := before[field]
			newVal := after[field]
			if oldVal == newVal {
				continue
			}
			changes = append(changes, model.Change{
				NPI:              npi,
				OrganizationName: after["organization_name"],
				Type:             model.ChangeUpdated,
				FieldChanged:     field,
				OldValue:         oldVal,
				NewValue:         newVal,
				DetectedAt:       now,
			})
		}
	}

	if emitDeactivations {
		missing := make([]string, 0)
		for npi := range in.Before {
			if !in.Seen[npi] {
				missing = append(missing, npi)
			}
		}
		sort.Strings(missing)
		for _, npi := range missing {
			changes = append(changes, model.Change{
				NPI:              npi,
				OrganizationName: in.Before[npi]["organization_name"],
				Type:             model.ChangeDeactivated,
				FieldChanged:     model.FieldAll,
				OldValue:         in.Before[npi]["organization_name"],
				DetectedAt:       now,
			})
		}
	}

	return changes
}
