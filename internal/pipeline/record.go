package pipeline

import (
	"strings"
	"time"

	"github.com/sells-group/pharmacy-intel/internal/classify"
	"github.com/sells-group/pharmacy-intel/internal/model"
	"github.com/sells-group/pharmacy-intel/internal/normalize"
	"github.com/sells-group/pharmacy-intel/internal/source"
)

// entityTypeOrganization is the stored entity type; individual providers are
// filtered out upstream, so every loaded record is an organization.
const entityTypeOrganization = "organization"

// buildPharmacy converts a raw registry record into a storable pharmacy:
// normalized strings, classification flags, ownership type, and the dedup
// key. Both timestamps are stamped with now; the store keeps the original
// first_seen on update.
func buildPharmacy(rec *source.RegistryRecord, tables *classify.Tables, now time.Time) model.Pharmacy {
	org := normalize.Name(rec.OrganizationName)
	dba := normalize.Name(rec.DBAName)
	addr1 := normalize.Address(rec.AddressLine1)
	addr2 := normalize.Address(rec.AddressLine2)
	zip := normalize.ZIP(rec.Zip)

	res := tables.Classify(org, dba)

	return model.Pharmacy{
		NPI:                     rec.NPI,
		OrganizationName:        strOrNil(org),
		DBAName:                 strOrNil(dba),
		EntityType:              model.Str(entityTypeOrganization),
		AddressLine1:            strOrNil(addr1),
		AddressLine2:            strOrNil(addr2),
		City:                    strOrNil(upper(rec.City)),
		State:                   strOrNil(normalize.State(rec.State)),
		Zip:                     strOrNil(zip),
		Phone:                   strOrNil(normalize.Phone(rec.Phone)),
		Fax:                     strOrNil(normalize.Phone(rec.Fax)),
		TaxonomyCode:            strOrNil(rec.TaxonomyCode),
		IsChain:                 res.IsChain,
		IsIndependent:           res.IsIndependent,
		IsInstitutional:         res.IsInstitutional,
		ChainParent:             res.ChainParent,
		AuthorizedOfficialName:  strOrNil(upper(rec.AuthorizedOfficialName)),
		AuthorizedOfficialTitle: strOrNil(upper(rec.AuthorizedOfficialTitle)),
		AuthorizedOfficialPhone: strOrNil(normalize.Phone(rec.AuthorizedOfficialPhone)),
		OwnershipType:           model.Str(classify.Ownership(org)),
		DedupKey:                model.Str(normalize.DedupKey(org, addr1, zip)),
		EnumerationDate:         rec.EnumerationDate,
		YearsInOperation:        rec.YearsInOperation(now),
		DeactivationDate:        rec.DeactivationDate,
		DeactivationReason:      strOrNil(rec.DeactivationReason),
		FirstSeen:               now,
		LastRefreshed:           now,
	}
}

// strOrNil maps "" to nil so empty extract cells never overwrite stored
// values through the coalescing upsert.
func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// upper collapses whitespace and uppercases, without the business-name
// canonicalization applied to organization names.
func upper(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
