package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharmacy-intel/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "pharmacies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testPharmacy(npi, org, state, zip string) model.Pharmacy {
	return model.Pharmacy{
		NPI:              npi,
		OrganizationName: model.Str(org),
		EntityType:       model.Str("organization"),
		AddressLine1:     model.Str("123 MAIN ST"),
		City:             model.Str("KENT"),
		State:            model.Str(state),
		Zip:              model.Str(zip),
		Phone:            model.Str("(330) 555-1234"),
		TaxonomyCode:     model.Str("3336C0002X"),
		IsIndependent:    true,
		OwnershipType:    model.Str(model.OwnershipLLC),
	}
}

func TestSQLiteUpsertInsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.UpsertBatch(ctx, []model.Pharmacy{
		testPharmacy("1234567890", "MAIN STREET PHARMACY LLC", "OH", "44240"),
		testPharmacy("9876543210", "CVS PHARMACY #04211", "OH", "44240"),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1234567890", "9876543210"}, stats.Added)
	assert.Empty(t, stats.Updated)

	first, err := s.Get(ctx, "1234567890")
	require.NoError(t, err)
	firstSeen := first.FirstSeen

	// Second pass: nil fields must not clear stored values, and first_seen
	// must not move.
	update := model.Pharmacy{
		NPI:           "1234567890",
		Phone:         model.Str("(330) 555-9999"),
		IsIndependent: true,
	}
	stats, err = s.UpsertBatch(ctx, []model.Pharmacy{update})
	require.NoError(t, err)
	assert.Empty(t, stats.Added)
	assert.Equal(t, []string{"1234567890"}, stats.Updated)

	got, err := s.Get(ctx, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, "MAIN STREET PHARMACY LLC", model.Deref(got.OrganizationName))
	assert.Equal(t, "(330) 555-9999", model.Deref(got.Phone))
	assert.WithinDuration(t, firstSeen, got.FirstSeen, time.Second)
	assert.False(t, got.LastRefreshed.Before(firstSeen))
}

func TestSQLiteGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "0000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteReclassifyMultiLocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := make([]model.Pharmacy, 0, 11)
	for i := 0; i < 10; i++ {
		batch = append(batch, testPharmacy(
			"10000000"+string(rune('0'+i))+"0", "HOMETOWN DRUG", "OH", "44240"))
	}
	batch = append(batch, testPharmacy("2000000000", "SOLO PHARMACY", "OH", "44240"))
	_, err := s.UpsertBatch(ctx, batch)
	require.NoError(t, err)

	n, err := s.ReclassifyMultiLocation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	flagged, err := s.Get(ctx, "1000000000")
	require.NoError(t, err)
	assert.True(t, flagged.IsChain)
	assert.False(t, flagged.IsIndependent)
	assert.Equal(t, "Multi-Location Operator", model.Deref(flagged.ChainParent))

	solo, err := s.Get(ctx, "2000000000")
	require.NoError(t, err)
	assert.True(t, solo.IsIndependent)
	assert.Nil(t, solo.ChainParent)

	// Below threshold nothing changes.
	n, err = s.ReclassifyMultiLocation(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLiteEnrichmentAndAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []model.Pharmacy{
		testPharmacy("1234567890", "MAIN STREET PHARMACY LLC", "OH", "44240"),
		testPharmacy("9876543210", "CVS PHARMACY #04211", "OH", "44240"),
		testPharmacy("5555555555", "DESERT DRUG", "AZ", "85001"),
	})
	require.NoError(t, err)

	matched, err := s.ApplyClaims(ctx, map[string]model.ClaimsMetrics{
		"1234567890": {Claims: 52000, Beneficiaries: 1100, Cost: 1850000.25},
		"0000000000": {Claims: 10}, // no stored match, silently skipped
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	matched, err = s.ApplyZipDemographics(ctx, map[string]model.ZipDemographics{
		"44240": {Population: 28500, MedianIncome: 54200, Pct65Plus: 19.4, PopGrowthPct: 0.8},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), matched)

	require.NoError(t, s.RefreshZipAggregates(ctx))

	got, err := s.Get(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, got.ZipPharmacyCount)
	assert.Equal(t, int64(2), *got.ZipPharmacyCount)
	require.NotNil(t, got.ZipMedicareClaims)
	assert.Equal(t, int64(52000), *got.ZipMedicareClaims)
	require.NotNil(t, got.ZipPharmaciesPer10k)
	assert.InDelta(t, 2.0/28500*10000, *got.ZipPharmaciesPer10k, 0.001)

	// No demographics loaded for 85001: density stays null.
	az, err := s.Get(ctx, "5555555555")
	require.NoError(t, err)
	require.NotNil(t, az.ZipPharmacyCount)
	assert.Equal(t, int64(1), *az.ZipPharmacyCount)
	assert.Nil(t, az.ZipPharmaciesPer10k)

	// Idempotent: a second pass yields the same aggregates.
	require.NoError(t, s.RefreshZipAggregates(ctx))
	again, err := s.Get(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, *got.ZipPharmaciesPer10k, *again.ZipPharmaciesPer10k)
}

func TestSQLiteScoringRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []model.Pharmacy{
		testPharmacy("1234567890", "MAIN STREET PHARMACY LLC", "OH", "44240"),
	})
	require.NoError(t, err)

	inputs, err := s.ScoringInputs(ctx)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "1234567890", inputs[0].NPI)
	assert.Nil(t, inputs[0].MedicareClaims)

	err = s.SaveScores(ctx, []model.Scores{
		{NPI: "1234567890", Competition: 80, MarketDemand: 65, Acquisition: 72.25},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "1234567890")
	require.NoError(t, err)
	require.NotNil(t, got.AcquisitionScore)
	assert.InDelta(t, 72.25, *got.AcquisitionScore, 0.001)
	require.NotNil(t, got.CompetitionScore)
	assert.InDelta(t, 80, *got.CompetitionScore, 0.001)
}

func TestSQLiteSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chain := testPharmacy("9876543210", "CVS PHARMACY #04211", "OH", "44240")
	chain.IsChain = true
	chain.IsIndependent = false
	_, err := s.UpsertBatch(ctx, []model.Pharmacy{
		testPharmacy("1234567890", "MAIN STREET PHARMACY LLC", "OH", "44240"),
		chain,
		testPharmacy("5555555555", "DESERT DRUG", "AZ", "85001"),
	})
	require.NoError(t, err)

	res, err := s.Search(ctx, SearchFilter{State: "oh"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)

	res, err = s.Search(ctx, SearchFilter{State: "OH", IndependentOnly: true})
	require.NoError(t, err)
	require.Len(t, res.Pharmacies, 1)
	assert.Equal(t, "1234567890", res.Pharmacies[0].NPI)

	res, err = s.Search(ctx, SearchFilter{Query: "desert"})
	require.NoError(t, err)
	require.Len(t, res.Pharmacies, 1)
	assert.Equal(t, "5555555555", res.Pharmacies[0].NPI)

	res, err = s.Search(ctx, SearchFilter{Zip: "442"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)

	// Pagination caps the page but reports the full total.
	res, err = s.Search(ctx, SearchFilter{PageSize: 2, Page: 2, SortBy: "name"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	require.Len(t, res.Pharmacies, 1)
	assert.Equal(t, "MAIN STREET PHARMACY LLC", model.Deref(res.Pharmacies[0].OrganizationName))
}

func TestSQLiteExportRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []model.Pharmacy{
		testPharmacy("1234567890", "MAIN STREET PHARMACY LLC", "OH", "44240"),
		testPharmacy("5555555555", "DESERT DRUG", "AZ", "85001"),
	})
	require.NoError(t, err)

	rows, err := s.ExportRows(ctx, SearchFilter{SortBy: "name"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "DESERT DRUG", model.Deref(rows[0].OrganizationName))
}

func TestSQLiteUpdateContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []model.Pharmacy{
		testPharmacy("1234567890", "MAIN STREET PHARMACY LLC", "OH", "44240"),
	})
	require.NoError(t, err)

	notes := "spoke with owner, open to offers"
	require.NoError(t, s.UpdateContact(ctx, "1234567890", nil, &notes, nil))

	got, err := s.Get(ctx, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, notes, model.Deref(got.Notes))
	assert.Nil(t, got.ContactEmail)

	err = s.UpdateContact(ctx, "0000000000", nil, &notes, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteCountByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []model.Pharmacy{
		testPharmacy("1234567890", "MAIN STREET PHARMACY LLC", "OH", "44240"),
		testPharmacy("9876543210", "CVS PHARMACY #04211", "OH", "44240"),
		testPharmacy("5555555555", "DESERT DRUG", "AZ", "85001"),
	})
	require.NoError(t, err)

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["OH"])
	assert.Equal(t, int64(1), counts["AZ"])
}

func TestSQLiteSnapshotFieldViews(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertBatch(ctx, []model.Pharmacy{
		testPharmacy("1234567890", "MAIN STREET PHARMACY LLC", "OH", "44240"),
	})
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, snap, "1234567890")

	view := snap["1234567890"]
	assert.Equal(t, "MAIN STREET PHARMACY LLC", view["organization_name"])
	assert.Equal(t, "false", view["is_chain"])
	assert.Equal(t, "true", view["is_independent"])
	assert.Equal(t, "", view["chain_parent"])
	for _, field := range model.TrackedFields {
		assert.Contains(t, view, field)
	}
}

func TestSQLiteChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InsertChanges(ctx, []model.Change{
		{NPI: "1234567890", OrganizationName: "MAIN STREET PHARMACY", Type: model.ChangeNew, FieldChanged: model.FieldAll},
		{NPI: "1234567890", OrganizationName: "MAIN STREET PHARMACY", Type: model.ChangeUpdated, FieldChanged: "phone", OldValue: "a", NewValue: "b"},
		{NPI: "9876543210", OrganizationName: "CVS PHARMACY #04211", Type: model.ChangeUpdated, FieldChanged: "zip", OldValue: "1", NewValue: "2"},
	})
	require.NoError(t, err)

	all, err := s.ListChanges(ctx, ChangeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byNPI, err := s.ListChanges(ctx, ChangeFilter{NPI: "1234567890"})
	require.NoError(t, err)
	assert.Len(t, byNPI, 2)

	updated, err := s.ListChanges(ctx, ChangeFilter{Type: model.ChangeUpdated})
	require.NoError(t, err)
	assert.Len(t, updated, 2)

	limited, err := s.ListChanges(ctx, ChangeFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	none, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	run, err := s.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, run.Status)

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)

	require.NoError(t, s.CompleteRun(ctx, run.ID, 100, 60, 40, 5))

	latest, err = s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, latest.Status)
	assert.NotNil(t, latest.CompletedAt)
	assert.Equal(t, int64(100), latest.RecordsProcessed)
	assert.Equal(t, int64(5), latest.ChangesDetected)

	assert.ErrorIs(t, s.CompleteRun(ctx, "missing", 0, 0, 0, 0), ErrNotFound)

	failed, err := s.CreateRun(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, failed.ID, "registry download failed"))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunFailed, runs[0].Status)
	assert.Equal(t, "registry download failed", runs[0].ErrorLog)
}
