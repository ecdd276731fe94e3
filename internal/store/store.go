// Package store persists pharmacy records, detected changes, and pipeline
// runs behind a driver-neutral interface with Postgres and SQLite
// implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/pharmacy-intel/internal/config"
	"github.com/sells-group/pharmacy-intel/internal/model"
)

// ErrNotFound is returned when a lookup matches no stored record.
var ErrNotFound = errors.New("store: not found")

// UpsertStats reports which NPIs a batch upsert inserted vs updated.
type UpsertStats struct {
	Added   []string
	Updated []string
}

// SearchFilter specifies criteria for listing pharmacies.
type SearchFilter struct {
	Query           string  // substring over name, dba, city, npi
	State           string  // exact, upper-cased
	City            string  // substring
	Zip             string  // prefix
	IndependentOnly bool
	MinScore        float64 // acquisition_score floor; 0 disables
	SortBy          string  // whitelisted sort key; unknown keys fall back
	Page            int     // 1-based
	PageSize        int
}

// SearchResult is one page of pharmacies plus the unpaged total.
type SearchResult struct {
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	Pharmacies []model.Pharmacy `json:"pharmacies"`
}

// ChangeFilter specifies criteria for listing detected changes.
type ChangeFilter struct {
	NPI    string
	Type   model.ChangeType
	Since  *time.Time
	Limit  int
	Offset int
}

// Store defines the persistence interface for the acquisition pipeline.
type Store interface {
	// Pharmacies
	UpsertBatch(ctx context.Context, batch []model.Pharmacy) (UpsertStats, error)
	ReclassifyMultiLocation(ctx context.Context, threshold int) (int64, error)
	ApplyClaims(ctx context.Context, claims map[string]model.ClaimsMetrics) (int64, error)
	ApplyZipDemographics(ctx context.Context, demo map[string]model.ZipDemographics) (int64, error)
	RefreshZipAggregates(ctx context.Context) error
	Get(ctx context.Context, npi string) (*model.Pharmacy, error)
	Search(ctx context.Context, filter SearchFilter) (*SearchResult, error)
	ExportRows(ctx context.Context, filter SearchFilter) ([]model.Pharmacy, error)
	UpdateContact(ctx context.Context, npi string, email, notes, dealStatus *string) error
	CountByState(ctx context.Context) (map[string]int64, error)

	// Scoring
	ScoringInputs(ctx context.Context) ([]model.ScoringInput, error)
	SaveScores(ctx context.Context, scores []model.Scores) error

	// Change detection
	Snapshot(ctx context.Context) (map[string]map[string]string, error)
	InsertChanges(ctx context.Context, changes []model.Change) error
	ListChanges(ctx context.Context, filter ChangeFilter) ([]model.Change, error)

	// Runs
	CreateRun(ctx context.Context) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, processed, added, updated, changes int64) error
	FailRun(ctx context.Context, runID string, errLog string) error
	LatestRun(ctx context.Context) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store named by the config driver.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	if cfg.Driver == "postgres" {
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	}
	return NewSQLite(cfg.DatabaseURL)
}
