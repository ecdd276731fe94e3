// Package model defines the core domain types shared across the pipeline.
package model

import "time"

// Ownership types inferred from the legal business name.
const (
	OwnershipLLC         = "LLC"
	OwnershipCorporation = "Corporation"
	OwnershipPartnership = "Partnership"
	OwnershipProfCorp    = "Professional Corporation"
	OwnershipUnknown     = "Unknown"
)

// Pharmacy is a deduplicated pharmacy organization keyed by NPI.
// Pointer fields are nullable in the store; an upsert only overwrites a
// column when the incoming value is non-nil.
type Pharmacy struct {
	NPI                      string     `json:"npi"`
	OrganizationName         *string    `json:"organization_name,omitempty"`
	DBAName                  *string    `json:"dba_name,omitempty"`
	EntityType               *string    `json:"entity_type,omitempty"`
	AddressLine1             *string    `json:"address_line1,omitempty"`
	AddressLine2             *string    `json:"address_line2,omitempty"`
	City                     *string    `json:"city,omitempty"`
	State                    *string    `json:"state,omitempty"`
	Zip                      *string    `json:"zip,omitempty"`
	County                   *string    `json:"county,omitempty"`
	Phone                    *string    `json:"phone,omitempty"`
	Fax                      *string    `json:"fax,omitempty"`
	TaxonomyCode             *string    `json:"taxonomy_code,omitempty"`
	IsChain                  bool       `json:"is_chain"`
	IsIndependent            bool       `json:"is_independent"`
	IsInstitutional          bool       `json:"is_institutional"`
	ChainParent              *string    `json:"chain_parent,omitempty"`
	AuthorizedOfficialName   *string    `json:"authorized_official_name,omitempty"`
	AuthorizedOfficialTitle  *string    `json:"authorized_official_title,omitempty"`
	AuthorizedOfficialPhone  *string    `json:"authorized_official_phone,omitempty"`
	OwnershipType            *string    `json:"ownership_type,omitempty"`
	DedupKey                 *string    `json:"dedup_key,omitempty"`
	EnumerationDate          *time.Time `json:"enumeration_date,omitempty"`
	YearsInOperation         *float64   `json:"years_in_operation,omitempty"`
	DeactivationDate         *time.Time `json:"deactivation_date,omitempty"`
	DeactivationReason       *string    `json:"deactivation_reason,omitempty"`
	MedicareClaimsCount      *int64     `json:"medicare_claims_count,omitempty"`
	MedicareBeneficiaryCount *int64     `json:"medicare_beneficiary_count,omitempty"`
	MedicareTotalCost        *float64   `json:"medicare_total_cost,omitempty"`
	ZipPopulation            *int64     `json:"zip_population,omitempty"`
	ZipMedianIncome          *float64   `json:"zip_median_income,omitempty"`
	ZipPct65Plus             *float64   `json:"zip_pct_65_plus,omitempty"`
	ZipPopGrowthPct          *float64   `json:"zip_pop_growth_pct,omitempty"`
	ZipMedicareClaims        *int64     `json:"zip_medicare_claims,omitempty"`
	ZipPharmacyCount         *int64     `json:"zip_pharmacy_count,omitempty"`
	ZipPharmaciesPer10k      *float64   `json:"zip_pharmacies_per_10k,omitempty"`
	CompetitionScore         *float64   `json:"competition_score,omitempty"`
	MarketDemandScore        *float64   `json:"market_demand_score,omitempty"`
	AcquisitionScore         *float64   `json:"acquisition_score,omitempty"`
	ContactEmail             *string    `json:"contact_email,omitempty"`
	Notes                    *string    `json:"notes,omitempty"`
	DealStatus               *string    `json:"deal_status,omitempty"`
	FirstSeen                time.Time  `json:"first_seen"`
	LastRefreshed            time.Time  `json:"last_refreshed"`
}

// Type returns the display classification of the pharmacy.
func (p *Pharmacy) Type() string {
	switch {
	case p.IsChain:
		return "Chain"
	case p.IsIndependent:
		return "Independent"
	default:
		return "Other"
	}
}

// Str returns a pointer to s, for populating nullable fields.
func Str(s string) *string { return &s }

// Deref returns the value of a nullable string, or "" when nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
