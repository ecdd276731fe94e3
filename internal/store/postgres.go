package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pharmacy-intel/internal/classify"
	"github.com/sells-group/pharmacy-intel/internal/db"
	"github.com/sells-group/pharmacy-intel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pharmacies (
	npi                        TEXT PRIMARY KEY,
	organization_name          TEXT,
	dba_name                   TEXT,
	entity_type                TEXT,
	address_line1              TEXT,
	address_line2              TEXT,
	city                       TEXT,
	state                      TEXT,
	zip                        TEXT,
	county                     TEXT,
	phone                      TEXT,
	fax                        TEXT,
	taxonomy_code              TEXT,
	is_chain                   BOOLEAN NOT NULL DEFAULT false,
	is_independent             BOOLEAN NOT NULL DEFAULT true,
	is_institutional           BOOLEAN NOT NULL DEFAULT false,
	chain_parent               TEXT,
	authorized_official_name   TEXT,
	authorized_official_title  TEXT,
	authorized_official_phone  TEXT,
	ownership_type             TEXT,
	dedup_key                  TEXT,
	enumeration_date           TIMESTAMPTZ,
	deactivation_date          TIMESTAMPTZ,
	deactivation_reason        TEXT,
	years_in_operation         DOUBLE PRECISION,
	medicare_claims_count      BIGINT,
	medicare_beneficiary_count BIGINT,
	medicare_total_cost        DOUBLE PRECISION,
	zip_population             BIGINT,
	zip_median_income          DOUBLE PRECISION,
	zip_pct_65_plus            DOUBLE PRECISION,
	zip_pop_growth_pct         DOUBLE PRECISION,
	zip_medicare_claims        BIGINT,
	zip_pharmacy_count         BIGINT,
	zip_pharmacies_per_10k     DOUBLE PRECISION,
	competition_score          DOUBLE PRECISION,
	market_demand_score        DOUBLE PRECISION,
	acquisition_score          DOUBLE PRECISION,
	contact_email              TEXT,
	notes                      TEXT,
	deal_status                TEXT,
	first_seen                 TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_refreshed             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pharmacies_state ON pharmacies(state);
CREATE INDEX IF NOT EXISTS idx_pharmacies_name ON pharmacies(organization_name);
CREATE INDEX IF NOT EXISTS idx_pharmacies_zip ON pharmacies(zip);
CREATE INDEX IF NOT EXISTS idx_pharmacies_independent ON pharmacies(is_independent);
CREATE INDEX IF NOT EXISTS idx_pharmacies_score ON pharmacies(acquisition_score DESC NULLS LAST);

CREATE TABLE IF NOT EXISTS pharmacy_changes (
	id                BIGSERIAL PRIMARY KEY,
	npi               TEXT NOT NULL,
	organization_name TEXT,
	change_type       TEXT NOT NULL,
	field_changed     TEXT,
	old_value         TEXT,
	new_value         TEXT,
	detected_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_changes_npi ON pharmacy_changes(npi);
CREATE INDEX IF NOT EXISTS idx_changes_detected_at ON pharmacy_changes(detected_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'pending',
	started_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ,
	records_processed BIGINT NOT NULL DEFAULT 0,
	records_added     BIGINT NOT NULL DEFAULT 0,
	records_updated   BIGINT NOT NULL DEFAULT 0,
	changes_detected  BIGINT NOT NULL DEFAULT 0,
	error_log         TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON pipeline_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// ingestColumns are the columns written by the registry loader. Enrichment
// and score columns are excluded so an upsert never clears them.
var ingestColumns = []string{
	"npi", "organization_name", "dba_name", "entity_type",
	"address_line1", "address_line2", "city", "state", "zip", "phone", "fax",
	"taxonomy_code", "is_chain", "is_independent", "is_institutional",
	"chain_parent", "authorized_official_name", "authorized_official_title",
	"authorized_official_phone", "ownership_type", "dedup_key",
	"enumeration_date", "deactivation_date", "deactivation_reason",
	"years_in_operation", "first_seen", "last_refreshed",
}

// ingestUpdateColumns are set on conflict: everything but the key and
// first_seen, which is fixed at insert time.
var ingestUpdateColumns = []string{
	"organization_name", "dba_name", "entity_type",
	"address_line1", "address_line2", "city", "state", "zip", "phone", "fax",
	"taxonomy_code", "is_chain", "is_independent", "is_institutional",
	"chain_parent", "authorized_official_name", "authorized_official_title",
	"authorized_official_phone", "ownership_type", "dedup_key",
	"enumeration_date", "deactivation_date", "deactivation_reason",
	"years_in_operation", "last_refreshed",
}

func ingestRow(p *model.Pharmacy) []any {
	return []any{
		p.NPI, p.OrganizationName, p.DBAName, p.EntityType,
		p.AddressLine1, p.AddressLine2, p.City, p.State, p.Zip, p.Phone, p.Fax,
		p.TaxonomyCode, p.IsChain, p.IsIndependent, p.IsInstitutional,
		p.ChainParent, p.AuthorizedOfficialName, p.AuthorizedOfficialTitle,
		p.AuthorizedOfficialPhone, p.OwnershipType, p.DedupKey,
		p.EnumerationDate, p.DeactivationDate, p.DeactivationReason,
		p.YearsInOperation, p.FirstSeen, p.LastRefreshed,
	}
}

// UpsertBatch inserts or updates one batch of pharmacies. Existing columns
// are only overwritten by non-null incoming values; last_refreshed is always
// stamped and first_seen never moves.
func (s *PostgresStore) UpsertBatch(ctx context.Context, batch []model.Pharmacy) (UpsertStats, error) {
	var stats UpsertStats
	if len(batch) == 0 {
		return stats, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(batch))
	for i := range batch {
		p := &batch[i]
		if p.FirstSeen.IsZero() {
			p.FirstSeen = now
		}
		if p.LastRefreshed.IsZero() {
			p.LastRefreshed = now
		}
		rows = append(rows, ingestRow(p))
	}

	res, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "pharmacies",
		Columns:      ingestColumns,
		ConflictKeys: []string{"npi"},
		UpdateCols:   ingestUpdateColumns,
		Coalesce:     true,
		ReturnKey:    "npi",
	}, rows)
	if err != nil {
		return stats, eris.Wrap(err, "postgres: upsert pharmacies")
	}
	stats.Added = res.Inserted
	stats.Updated = res.Updated
	return stats, nil
}

func (s *PostgresStore) ReclassifyMultiLocation(ctx context.Context, threshold int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pharmacies SET is_chain = true, is_independent = false, chain_parent = $1
		 WHERE is_independent = true AND organization_name IN (
		   SELECT organization_name FROM pharmacies
		   WHERE is_independent = true AND organization_name IS NOT NULL
		   GROUP BY organization_name
		   HAVING COUNT(*) >= $2
		 )`,
		classify.MultiLocationParent, threshold,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reclassify multi-location")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ApplyClaims(ctx context.Context, claims map[string]model.ClaimsMetrics) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: apply claims: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var matched int64
	for npi, m := range claims {
		tag, err := tx.Exec(ctx,
			`UPDATE pharmacies
			 SET medicare_claims_count = $1, medicare_beneficiary_count = $2, medicare_total_cost = $3
			 WHERE npi = $4`,
			m.Claims, m.Beneficiaries, m.Cost, npi,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: apply claims for %s", npi)
		}
		matched += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: apply claims: commit tx")
	}
	return matched, nil
}

func (s *PostgresStore) ApplyZipDemographics(ctx context.Context, demo map[string]model.ZipDemographics) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: apply demographics: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var matched int64
	for zip, d := range demo {
		tag, err := tx.Exec(ctx,
			`UPDATE pharmacies
			 SET zip_population = $1, zip_median_income = $2, zip_pct_65_plus = $3, zip_pop_growth_pct = $4
			 WHERE zip = $5`,
			d.Population, d.MedianIncome, d.Pct65Plus, d.PopGrowthPct, zip,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: apply demographics for %s", zip)
		}
		matched += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: apply demographics: commit tx")
	}
	return matched, nil
}

// RefreshZipAggregates recomputes per-ZIP pharmacy counts, claims sums, and
// density. Re-running with unchanged inputs yields unchanged outputs.
func (s *PostgresStore) RefreshZipAggregates(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pharmacies p SET
		   zip_pharmacy_count = a.cnt,
		   zip_medicare_claims = a.claims,
		   zip_pharmacies_per_10k = CASE
		     WHEN p.zip_population > 0 THEN a.cnt::double precision / p.zip_population * 10000
		   END
		 FROM (
		   SELECT zip, COUNT(*) AS cnt, SUM(COALESCE(medicare_claims_count, 0)) AS claims
		   FROM pharmacies WHERE zip IS NOT NULL GROUP BY zip
		 ) a
		 WHERE p.zip = a.zip`,
	)
	return eris.Wrap(err, "postgres: refresh zip aggregates")
}

// pharmacyColumns is the full select list, kept in scanPharmacy order.
const pharmacyColumns = `npi, organization_name, dba_name, entity_type,
	address_line1, address_line2, city, state, zip, county, phone, fax,
	taxonomy_code, is_chain, is_independent, is_institutional, chain_parent,
	authorized_official_name, authorized_official_title, authorized_official_phone,
	ownership_type, dedup_key, enumeration_date, deactivation_date,
	deactivation_reason, years_in_operation, medicare_claims_count,
	medicare_beneficiary_count, medicare_total_cost, zip_population,
	zip_median_income, zip_pct_65_plus, zip_pop_growth_pct, zip_medicare_claims,
	zip_pharmacy_count, zip_pharmacies_per_10k, competition_score,
	market_demand_score, acquisition_score, contact_email, notes, deal_status,
	first_seen, last_refreshed`

func scanPharmacy(row pgx.Row) (*model.Pharmacy, error) {
	var p model.Pharmacy
	err := row.Scan(
		&p.NPI, &p.OrganizationName, &p.DBAName, &p.EntityType,
		&p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.Zip, &p.County, &p.Phone, &p.Fax,
		&p.TaxonomyCode, &p.IsChain, &p.IsIndependent, &p.IsInstitutional, &p.ChainParent,
		&p.AuthorizedOfficialName, &p.AuthorizedOfficialTitle, &p.AuthorizedOfficialPhone,
		&p.OwnershipType, &p.DedupKey, &p.EnumerationDate, &p.DeactivationDate,
		&p.DeactivationReason, &p.YearsInOperation, &p.MedicareClaimsCount,
		&p.MedicareBeneficiaryCount, &p.MedicareTotalCost, &p.ZipPopulation,
		&p.ZipMedianIncome, &p.ZipPct65Plus, &p.ZipPopGrowthPct, &p.ZipMedicareClaims,
		&p.ZipPharmacyCount, &p.ZipPharmaciesPer10k, &p.CompetitionScore,
		&p.MarketDemandScore, &p.AcquisitionScore, &p.ContactEmail, &p.Notes, &p.DealStatus,
		&p.FirstSeen, &p.LastRefreshed,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) Get(ctx context.Context, npi string) (*model.Pharmacy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pharmacyColumns+` FROM pharmacies WHERE npi = $1`, npi)
	p, err := scanPharmacy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get pharmacy %s", npi)
	}
	return p, nil
}

// searchSorts whitelists sort keys; anything else falls back to "score".
var searchSorts = map[string]string{
	"score":       "acquisition_score DESC NULLS LAST",
	"name":        "organization_name ASC",
	"state":       "state ASC, organization_name ASC",
	"claims":      "medicare_claims_count DESC NULLS LAST",
	"zip_claims":  "zip_medicare_claims DESC NULLS LAST",
	"competition": "competition_score DESC NULLS LAST",
	"refreshed":   "last_refreshed DESC",
}

func buildSearchWhere(filter SearchFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.Query != "" {
		add(`(organization_name ILIKE $%[1]d OR dba_name ILIKE $%[1]d OR city ILIKE $%[1]d OR npi LIKE $%[1]d)`,
			"%"+filter.Query+"%")
	}
	if filter.State != "" {
		add(`state = $%d`, strings.ToUpper(filter.State))
	}
	if filter.City != "" {
		add(`city ILIKE $%d`, "%"+filter.City+"%")
	}
	if filter.Zip != "" {
		add(`zip LIKE $%d`, filter.Zip+"%")
	}
	if filter.IndependentOnly {
		clauses = append(clauses, `is_independent = true`)
	}
	if filter.MinScore > 0 {
		add(`acquisition_score >= $%d`, filter.MinScore)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) Search(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	where, args := buildSearchWhere(filter)

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pharmacies`+where, args...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "postgres: count pharmacies")
	}

	orderBy, ok := searchSorts[filter.SortBy]
	if !ok {
		orderBy = searchSorts["score"]
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}

	query := fmt.Sprintf(`SELECT %s FROM pharmacies%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		pharmacyColumns, where, orderBy, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search pharmacies")
	}
	defer rows.Close()

	result := &SearchResult{Total: total, Page: page, PageSize: pageSize}
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pharmacy")
		}
		result.Pharmacies = append(result.Pharmacies, *p)
	}
	return result, eris.Wrap(rows.Err(), "postgres: search iterate")
}

// ExportRows returns every pharmacy matching the filter, unpaged.
func (s *PostgresStore) ExportRows(ctx context.Context, filter SearchFilter) ([]model.Pharmacy, error) {
	where, args := buildSearchWhere(filter)
	orderBy, ok := searchSorts[filter.SortBy]
	if !ok {
		orderBy = searchSorts["score"]
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM pharmacies%s ORDER BY %s`, pharmacyColumns, where, orderBy),
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: export pharmacies")
	}
	defer rows.Close()

	var out []model.Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pharmacy")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: export iterate")
}

func (s *PostgresStore) UpdateContact(ctx context.Context, npi string, email, notes, dealStatus *string) error {
	var sets []string
	var args []any
	set := func(col string, v *string) {
		if v != nil {
			args = append(args, *v)
			sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	set("contact_email", email)
	set("notes", notes)
	set("deal_status", dealStatus)
	if len(sets) == 0 {
		return eris.New("postgres: update contact: no fields to update")
	}

	args = append(args, npi)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE pharmacies SET %s WHERE npi = $%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update contact %s", npi)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM pharmacies WHERE state IS NOT NULL GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by state")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state count")
		}
		counts[state] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by state iterate")
}

func (s *PostgresStore) ScoringInputs(ctx context.Context) ([]model.ScoringInput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT npi, medicare_claims_count, zip_medicare_claims, zip_pharmacies_per_10k,
		        zip_pct_65_plus, zip_median_income, zip_pop_growth_pct, years_in_operation
		 FROM pharmacies`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scoring inputs")
	}
	defer rows.Close()

	var inputs []model.ScoringInput
	for rows.Next() {
		var in model.ScoringInput
		if err := rows.Scan(&in.NPI, &in.MedicareClaims, &in.ZipMedicareClaims,
			&in.PharmaciesPer10k, &in.Pct65Plus, &in.MedianIncome,
			&in.PopGrowthPct, &in.YearsInOperation); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scoring input")
		}
		inputs = append(inputs, in)
	}
	return inputs, eris.Wrap(rows.Err(), "postgres: scoring inputs iterate")
}

func (s *PostgresStore) SaveScores(ctx context.Context, scores []model.Scores) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: save scores: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, sc := range scores {
		if _, err := tx.Exec(ctx,
			`UPDATE pharmacies
			 SET competition_score = $1, market_demand_score = $2, acquisition_score = $3
			 WHERE npi = $4`,
			sc.Competition, sc.MarketDemand, sc.Acquisition, sc.NPI,
		); err != nil {
			return eris.Wrapf(err, "postgres: save scores for %s", sc.NPI)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: save scores: commit tx")
}

// Snapshot returns the tracked-field view of every stored pharmacy, keyed
// by NPI, for pre-run change detection.
func (s *PostgresStore) Snapshot(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT npi, organization_name, dba_name, address_line1, city, state, zip,
		        phone, is_chain, is_independent, chain_parent, authorized_official_name
		 FROM pharmacies`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot")
	}
	defer rows.Close()

	snap := make(map[string]map[string]string)
	for rows.Next() {
		var p model.Pharmacy
		if err := rows.Scan(&p.NPI, &p.OrganizationName, &p.DBAName, &p.AddressLine1,
			&p.City, &p.State, &p.Zip, &p.Phone, &p.IsChain, &p.IsIndependent,
			&p.ChainParent, &p.AuthorizedOfficialName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot row")
		}
		snap[p.NPI] = p.FieldView()
	}
	return snap, eris.Wrap(rows.Err(), "postgres: snapshot iterate")
}

var changeColumns = []string{
	"npi", "organization_name", "change_type", "field_changed",
	"old_value", "new_value", "detected_at",
}

func (s *PostgresStore) InsertChanges(ctx context.Context, changes []model.Change) error {
	if len(changes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(changes))
	for _, c := range changes {
		detectedAt := c.DetectedAt
		if detectedAt.IsZero() {
			detectedAt = now
		}
		rows = append(rows, []any{
			c.NPI, c.OrganizationName, string(c.Type), c.FieldChanged,
			c.OldValue, c.NewValue, detectedAt,
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "pharmacy_changes", changeColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert changes")
	}
	return nil
}

func (s *PostgresStore) ListChanges(ctx context.Context, filter ChangeFilter) ([]model.Change, error) {
	query := `SELECT id, npi, organization_name, change_type, field_changed, old_value, new_value, detected_at
	          FROM pharmacy_changes WHERE true`
	var args []any

	if filter.NPI != "" {
		args = append(args, filter.NPI)
		query += fmt.Sprintf(` AND npi = $%d`, len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(` AND change_type = $%d`, len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(` AND detected_at >= $%d`, len(args))
	}
	query += ` ORDER BY detected_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list changes")
	}
	defer rows.Close()

	var changes []model.Change
	for rows.Next() {
		var c model.Change
		var org *string
		if err := rows.Scan(&c.ID, &c.NPI, &org, &c.Type, &c.FieldChanged,
			&c.OldValue, &c.NewValue, &c.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan change")
		}
		c.OrganizationName = model.Deref(org)
		changes = append(changes, c)
	}
	return changes, eris.Wrap(rows.Err(), "postgres: list changes iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		id, string(model.RunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.Run{ID: id, Status: model.RunRunning, StartedAt: now}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, processed, added, updated, changes int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $1, completed_at = $2, records_processed = $3,
		     records_added = $4, records_updated = $5, changes_detected = $6
		 WHERE id = $7`,
		string(model.RunCompleted), time.Now().UTC(), processed, added, updated, changes, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errLog string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, completed_at = $2, error_log = $3 WHERE id = $4`,
		string(model.RunFailed), time.Now().UTC(), errLog, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, status, started_at, completed_at, records_processed,
	records_added, records_updated, changes_detected, error_log`

func scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var errLog *string
	err := row.Scan(&r.ID, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.RecordsProcessed, &r.RecordsAdded, &r.RecordsUpdated,
		&r.ChangesDetected, &errLog)
	if err != nil {
		return nil, err
	}
	r.ErrorLog = model.Deref(errLog)
	return &r, nil
}

// LatestRun returns the most recent run, or (nil, nil) when none exist.
func (s *PostgresStore) LatestRun(ctx context.Context) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest run")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
