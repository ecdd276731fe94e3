package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pharmacy-intel/internal/classify"
	"github.com/sells-group/pharmacy-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	is_chain                   BOOLEAN NOT NULL DEFAULT 0,
	is_independent             BOOLEAN NOT NULL DEFAULT 1,
	is_institutional           BOOLEAN NOT NULL DEFAULT 0,
	chain_parent               TEXT,
	authorized_official_name   TEXT,
	authorized_official_title  TEXT,
	authorized_official_phone  TEXT,
	ownership_type             TEXT,
	dedup_key                  TEXT,
	enumeration_date           DATETIME,
	deactivation_date          DATETIME,
	deactivation_reason        TEXT,
	years_in_operation         REAL,
	medicare_claims_count      INTEGER,
	medicare_beneficiary_count INTEGER,
	medicare_total_cost        REAL,
	zip_population             INTEGER,
	zip_median_income          REAL,
	zip_pct_65_plus            REAL,
	zip_pop_growth_pct         REAL,
	zip_medicare_claims        INTEGER,
	zip_pharmacy_count         INTEGER,
	zip_pharmacies_per_10k     REAL,
	competition_score          REAL,
	market_demand_score        REAL,
	acquisition_score          REAL,
	contact_email              TEXT,
	notes                      TEXT,
	deal_status                TEXT,
	first_seen                 DATETIME NOT NULL,
	last_refreshed             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pharmacies_state ON pharmacies(state);
CREATE INDEX IF NOT EXISTS idx_pharmacies_name ON pharmacies(organization_name);
CREATE INDEX IF NOT EXISTS idx_pharmacies_zip ON pharmacies(zip);
CREATE INDEX IF NOT EXISTS idx_pharmacies_independent ON pharmacies(is_independent);

CREATE TABLE IF NOT EXISTS pharmacy_changes (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	npi               TEXT NOT NULL,
	organization_name TEXT,
	change_type       TEXT NOT NULL,
	field_changed     TEXT,
	old_value         TEXT,
	new_value         TEXT,
	detected_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_changes_npi ON pharmacy_changes(npi);
CREATE INDEX IF NOT EXISTS idx_changes_detected_at ON pharmacy_changes(detected_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'pending',
	started_at        DATETIME NOT NULL,
	completed_at      DATETIME,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_added     INTEGER NOT NULL DEFAULT 0,
	records_updated   INTEGER NOT NULL DEFAULT 0,
	changes_detected  INTEGER NOT NULL DEFAULT 0,
	error_log         TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON pipeline_runs(started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteUpsert matches ingestColumns; on conflict each column keeps its
// existing value when the incoming one is NULL, and first_seen never moves.
var sqliteUpsert = fmt.Sprintf(`
INSERT INTO pharmacies (%s) VALUES (%s)
ON CONFLICT(npi) DO UPDATE SET
	organization_name = COALESCE(excluded.organization_name, organization_name),
	dba_name = COALESCE(excluded.dba_name, dba_name),
	entity_type = COALESCE(excluded.entity_type, entity_type),
	address_line1 = COALESCE(excluded.address_line1, address_line1),
	address_line2 = COALESCE(excluded.address_line2, address_line2),
	city = COALESCE(excluded.city, city),
	state = COALESCE(excluded.state, state),
	zip = COALESCE(excluded.zip, zip),
	phone = COALESCE(excluded.phone, phone),
	fax = COALESCE(excluded.fax, fax),
	taxonomy_code = COALESCE(excluded.taxonomy_code, taxonomy_code),
	is_chain = excluded.is_chain,
	is_independent = excluded.is_independent,
	is_institutional = excluded.is_institutional,
	chain_parent = COALESCE(excluded.chain_parent, chain_parent),
	authorized_official_name = COALESCE(excluded.authorized_official_name, authorized_official_name),
	authorized_official_title = COALESCE(excluded.authorized_official_title, authorized_official_title),
	authorized_official_phone = COALESCE(excluded.authorized_official_phone, authorized_official_phone),
	ownership_type = COALESCE(excluded.ownership_type, ownership_type),
	dedup_key = COALESCE(excluded.dedup_key, dedup_key),
	enumeration_date = COALESCE(excluded.enumeration_date, enumeration_date),
	deactivation_date = COALESCE(excluded.deactivation_date, deactivation_date),
	deactivation_reason = COALESCE(excluded.deactivation_reason, deactivation_reason),
	years_in_operation = COALESCE(excluded.years_in_operation, years_in_operation),
	last_refreshed = excluded.last_refreshed`,
	strings.Join(ingestColumns, ", "),
	strings.TrimSuffix(strings.Repeat("?, ", len(ingestColumns)), ", "),
)

func (s *SQLiteStore) UpsertBatch(ctx context.Context, batch []model.Pharmacy) (UpsertStats, error) {
	var stats UpsertStats
	if len(batch) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, eris.Wrap(err, "sqlite: upsert: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range batch {
		p := &batch[i]
		if p.FirstSeen.IsZero() {
			p.FirstSeen = now
		}
		if p.LastRefreshed.IsZero() {
			p.LastRefreshed = now
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM pharmacies WHERE npi = ?)`, p.NPI,
		).Scan(&exists); err != nil {
			return stats, eris.Wrapf(err, "sqlite: upsert: check %s", p.NPI)
		}

		if _, err := tx.ExecContext(ctx, sqliteUpsert, ingestRow(p)...); err != nil {
			return stats, eris.Wrapf(err, "sqlite: upsert %s", p.NPI)
		}

		if exists {
			stats.Updated = append(stats.Updated, p.NPI)
		} else {
			stats.Added = append(stats.Added, p.NPI)
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, eris.Wrap(err, "sqlite: upsert: commit tx")
	}
	return stats, nil
}

func (s *SQLiteStore) ReclassifyMultiLocation(ctx context.Context, threshold int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pharmacies SET is_chain = 1, is_independent = 0, chain_parent = ?
		 WHERE is_independent = 1 AND organization_name IN (
		   SELECT organization_name FROM pharmacies
		   WHERE is_independent = 1 AND organization_name IS NOT NULL
		   GROUP BY organization_name
		   HAVING COUNT(*) >= ?
		 )`,
		classify.MultiLocationParent, threshold,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reclassify multi-location")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: reclassify rows affected")
}

func (s *SQLiteStore) ApplyClaims(ctx context.Context, claims map[string]model.ClaimsMetrics) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: apply claims: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var matched int64
	for npi, m := range claims {
		res, err := tx.ExecContext(ctx,
			`UPDATE pharmacies
			 SET medicare_claims_count = ?, medicare_beneficiary_count = ?, medicare_total_cost = ?
			 WHERE npi = ?`,
			m.Claims, m.Beneficiaries, m.Cost, npi,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: apply claims for %s", npi)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: apply claims rows affected")
		}
		matched += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: apply claims: commit tx")
	}
	return matched, nil
}

func (s *SQLiteStore) ApplyZipDemographics(ctx context.Context, demo map[string]model.ZipDemographics) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: apply demographics: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var matched int64
	for zip, d := range demo {
		res, err := tx.ExecContext(ctx,
			`UPDATE pharmacies
			 SET zip_population = ?, zip_median_income = ?, zip_pct_65_plus = ?, zip_pop_growth_pct = ?
			 WHERE zip = ?`,
			d.Population, d.MedianIncome, d.Pct65Plus, d.PopGrowthPct, zip,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: apply demographics for %s", zip)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: apply demographics rows affected")
		}
		matched += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: apply demographics: commit tx")
	}
	return matched, nil
}

func (s *SQLiteStore) RefreshZipAggregates(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pharmacies SET
		   zip_pharmacy_count = (SELECT COUNT(*) FROM pharmacies p2 WHERE p2.zip = pharmacies.zip),
		   zip_medicare_claims = (SELECT SUM(COALESCE(p2.medicare_claims_count, 0)) FROM pharmacies p2 WHERE p2.zip = pharmacies.zip)
		 WHERE zip IS NOT NULL`,
	); err != nil {
		return eris.Wrap(err, "sqlite: refresh zip counts")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE pharmacies
		 SET zip_pharmacies_per_10k = CAST(zip_pharmacy_count AS REAL) / zip_population * 10000
		 WHERE zip_population > 0 AND zip_pharmacy_count IS NOT NULL`,
	)
	return eris.Wrap(err, "sqlite: refresh zip density")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPharmacySQLite(row scannable) (*model.Pharmacy, error) {
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

func (s *SQLiteStore) Get(ctx context.Context, npi string) (*model.Pharmacy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pharmacyColumns+` FROM pharmacies WHERE npi = ?`, npi)
	p, err := scanPharmacySQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get pharmacy %s", npi)
	}
	return p, nil
}

// sqliteSorts whitelists sort keys. DESC already places NULLs last in
// SQLite's ordering.
var sqliteSorts = map[string]string{
	"score":       "acquisition_score DESC",
	"name":        "organization_name ASC",
	"state":       "state ASC, organization_name ASC",
	"claims":      "medicare_claims_count DESC",
	"zip_claims":  "zip_medicare_claims DESC",
	"competition": "competition_score DESC",
	"refreshed":   "last_refreshed DESC",
}

func buildSearchWhereSQLite(filter SearchFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.Query != "" {
		q := "%" + filter.Query + "%"
		clauses = append(clauses, `(organization_name LIKE ? OR dba_name LIKE ? OR city LIKE ? OR npi LIKE ?)`)
		args = append(args, q, q, q, q)
	}
	if filter.State != "" {
		clauses = append(clauses, `state = ?`)
		args = append(args, strings.ToUpper(filter.State))
	}
	if filter.City != "" {
		clauses = append(clauses, `city LIKE ?`)
		args = append(args, "%"+filter.City+"%")
	}
	if filter.Zip != "" {
		clauses = append(clauses, `zip LIKE ?`)
		args = append(args, filter.Zip+"%")
	}
	if filter.IndependentOnly {
		clauses = append(clauses, `is_independent = 1`)
	}
	if filter.MinScore > 0 {
		clauses = append(clauses, `acquisition_score >= ?`)
		args = append(args, filter.MinScore)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) Search(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	where, args := buildSearchWhereSQLite(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pharmacies`+where, args...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "sqlite: count pharmacies")
	}

	orderBy, ok := sqliteSorts[filter.SortBy]
	if !ok {
		orderBy = sqliteSorts["score"]
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

	query := fmt.Sprintf(`SELECT %s FROM pharmacies%s ORDER BY %s LIMIT ? OFFSET ?`,
		pharmacyColumns, where, orderBy)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search pharmacies")
	}
	defer rows.Close()

	result := &SearchResult{Total: total, Page: page, PageSize: pageSize}
	for rows.Next() {
		p, err := scanPharmacySQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pharmacy")
		}
		result.Pharmacies = append(result.Pharmacies, *p)
	}
	return result, eris.Wrap(rows.Err(), "sqlite: search iterate")
}

func (s *SQLiteStore) ExportRows(ctx context.Context, filter SearchFilter) ([]model.Pharmacy, error) {
	where, args := buildSearchWhereSQLite(filter)
	orderBy, ok := sqliteSorts[filter.SortBy]
	if !ok {
		orderBy = sqliteSorts["score"]
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM pharmacies%s ORDER BY %s`, pharmacyColumns, where, orderBy),
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: export pharmacies")
	}
	defer rows.Close()

	var out []model.Pharmacy
	for rows.Next() {
		p, err := scanPharmacySQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pharmacy")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: export iterate")
}

func (s *SQLiteStore) UpdateContact(ctx context.Context, npi string, email, notes, dealStatus *string) error {
	var sets []string
	var args []any
	set := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	set("contact_email", email)
	set("notes", notes)
	set("deal_status", dealStatus)
	if len(sets) == 0 {
		return eris.New("sqlite: update contact: no fields to update")
	}

	args = append(args, npi)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE pharmacies SET %s WHERE npi = ?`, strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update contact %s", npi)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update contact rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM pharmacies WHERE state IS NOT NULL GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by state")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state count")
		}
		counts[state] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by state iterate")
}

func (s *SQLiteStore) ScoringInputs(ctx context.Context) ([]model.ScoringInput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT npi, medicare_claims_count, zip_medicare_claims, zip_pharmacies_per_10k,
		        zip_pct_65_plus, zip_median_income, zip_pop_growth_pct, years_in_operation
		 FROM pharmacies`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scoring inputs")
	}
	defer rows.Close()

	var inputs []model.ScoringInput
	for rows.Next() {
		var in model.ScoringInput
		if err := rows.Scan(&in.NPI, &in.MedicareClaims, &in.ZipMedicareClaims,
			&in.PharmaciesPer10k, &in.Pct65Plus, &in.MedianIncome,
			&in.PopGrowthPct, &in.YearsInOperation); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scoring input")
		}
		inputs = append(inputs, in)
	}
	return inputs, eris.Wrap(rows.Err(), "sqlite: scoring inputs iterate")
}

func (s *SQLiteStore) SaveScores(ctx context.Context, scores []model.Scores) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: save scores: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, sc := range scores {
		if _, err := tx.ExecContext(ctx,
			`UPDATE pharmacies
			 SET competition_score = ?, market_demand_score = ?, acquisition_score = ?
			 WHERE npi = ?`,
			sc.Competition, sc.MarketDemand, sc.Acquisition, sc.NPI,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save scores for %s", sc.NPI)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: save scores: commit tx")
}

func (s *SQLiteStore) Snapshot(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT npi, organization_name, dba_name, address_line1, city, state, zip,
		        phone, is_chain, is_independent, chain_parent, authorized_official_name
		 FROM pharmacies`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot")
	}
	defer rows.Close()

	snap := make(map[string]map[string]string)
	for rows.Next() {
		var p model.Pharmacy
		if err := rows.Scan(&p.NPI, &p.OrganizationName, &p.DBAName, &p.AddressLine1,
			&p.City, &p.State, &p.Zip, &p.Phone, &p.IsChain, &p.IsIndependent,
			&p.ChainParent, &p.AuthorizedOfficialName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot row")
		}
		snap[p.NPI] = p.FieldView()
	}
	return snap, eris.Wrap(rows.Err(), "sqlite: snapshot iterate")
}

func (s *SQLiteStore) InsertChanges(ctx context.Context, changes []model.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert changes: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, c := range changes {
		detectedAt := c.DetectedAt
		if detectedAt.IsZero() {
			detectedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pharmacy_changes
			 (npi, organization_name, change_type, field_changed, old_value, new_value, detected_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.NPI, c.OrganizationName, string(c.Type), c.FieldChanged,
			c.OldValue, c.NewValue, detectedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert change for %s", c.NPI)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: insert changes: commit tx")
}

func (s *SQLiteStore) ListChanges(ctx context.Context, filter ChangeFilter) ([]model.Change, error) {
	query := `SELECT id, npi, organization_name, change_type, field_changed, old_value, new_value, detected_at
	          FROM pharmacy_changes WHERE 1=1`
	var args []any

	if filter.NPI != "" {
		query += ` AND npi = ?`
		args = append(args, filter.NPI)
	}
	if filter.Type != "" {
		query += ` AND change_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Since != nil {
		query += ` AND detected_at >= ?`
		args = append(args, *filter.Since)
	}
	query += ` ORDER BY detected_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list changes")
	}
	defer rows.Close()

	var changes []model.Change
	for rows.Next() {
		var c model.Change
		var org sql.NullString
		var changeType string
		if err := rows.Scan(&c.ID, &c.NPI, &org, &changeType, &c.FieldChanged,
			&c.OldValue, &c.NewValue, &c.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change")
		}
		c.OrganizationName = org.String
		c.Type = model.ChangeType(changeType)
		changes = append(changes, c)
	}
	return changes, eris.Wrap(rows.Err(), "sqlite: list changes iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.RunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.Run{ID: id, Status: model.RunRunning, StartedAt: now}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, processed, added, updated, changes int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, completed_at = ?, records_processed = ?,
		     records_added = ?, records_updated = ?, changes_detected = ?
		 WHERE id = ?`,
		string(model.RunCompleted), time.Now().UTC(), processed, added, updated, changes, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errLog string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, completed_at = ?, error_log = ? WHERE id = ?`,
		string(model.RunFailed), time.Now().UTC(), errLog, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res)
}

func scanRunSQLite(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var errLog sql.NullString
	err := row.Scan(&r.ID, &status, &r.StartedAt, &r.CompletedAt,
		&r.RecordsProcessed, &r.RecordsAdded, &r.RecordsUpdated,
		&r.ChangesDetected, &errLog)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.ErrorLog = errLog.String
	return &r, nil
}

// LatestRun returns the most recent run, or (nil, nil) when none exist.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`)
	r, err := scanRunSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: latest run")
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRunSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
