// Package store provides SQLite persistence for fund data, ETL run history
// and workflow tracking.
//
// Mutations take an explicit *sql.Tx and are composed under Store.WithTx, so
// one logical operation is always one transaction: either every write of an
// apply or load lands, or none do. Reads run outside transactions on the
// shared handle.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fund-etl-service/internal/models"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS fund_data (
    date TEXT NOT NULL,
    region TEXT NOT NULL,
    fund_code TEXT NOT NULL,
    fund_name TEXT,
    master_class_fund_name TEXT,
    rating TEXT,
    unique_identifier TEXT,
    nasdaq TEXT,
    fund_complex TEXT,
    subcategory TEXT,
    domicile TEXT,
    currency TEXT,
    share_class_assets REAL,
    portfolio_assets REAL,
    one_day_yield REAL,
    one_day_gross_yield REAL,
    seven_day_yield REAL,
    seven_day_gross_yield REAL,
    expense_ratio REAL,
    wam REAL,
    wal REAL,
    transactional_nav TEXT,
    market_nav TEXT,
    daily_liquidity REAL,
    weekly_liquidity REAL,
    fees TEXT,
    gates TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (date, region, fund_code)
);

CREATE INDEX IF NOT EXISTS idx_fund_data_region_date ON fund_data(region, date);

CREATE TABLE IF NOT EXISTS etl_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_date TEXT NOT NULL,
    data_date TEXT NOT NULL,
    region TEXT NOT NULL,
    status TEXT NOT NULL,
    records_processed INTEGER DEFAULT 0,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_etl_log_data_date ON etl_log(region, data_date);

CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    output TEXT DEFAULT '',
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);
`

// fundDataColumns lists the fund_data columns in insert order, after the
// primary key triplet.
var fundDataColumns = []string{
	"fund_name", "master_class_fund_name", "rating", "unique_identifier",
	"nasdaq", "fund_complex", "subcategory", "domicile", "currency",
	"share_class_assets", "portfolio_assets",
	"one_day_yield", "one_day_gross_yield",
	"seven_day_yield", "seven_day_gross_yield",
	"expense_ratio", "wam", "wal",
	"transactional_nav", "market_nav",
	"daily_liquidity", "weekly_liquidity",
	"fees", "gates",
}

// Store wraps the SQLite handle
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. Foreign keys and a busy timeout are enabled on the connection.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "open", err).WithContext("path", path)
	}

	// SQLite serializes writers; a single connection avoids busy errors
	// between the scheduler and the API surface.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "apply schema", err).WithContext("path", path)
	}

	return &Store{
		db:     db,
		logger: logger.GetGlobalLogger().WithComponent("store"),
	}, nil
}

// Close closes the underlying database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for read-only consumers such as the tracker.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise, so partial writes never persist.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError(errors.CodeTransactionFailed, "begin", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Error("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreError(errors.CodeTransactionFailed, "commit", err)
	}
	return nil
}

// SnapshotForDate returns all records for one region and date, keyed by fund
// code.
func (s *Store) SnapshotForDate(ctx context.Context, region models.Region, date time.Time) (map[string]*models.FundRecord, error) {
	query := fmt.Sprintf(
		"SELECT date, region, fund_code, %s, created_at FROM fund_data WHERE region = ? AND date = ?",
		strings.Join(fundDataColumns, ", "))

	rows, err := s.db.QueryContext(ctx, query, region.String(), date.Format(models.DateFormat))
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "snapshot", err)
	}
	defer rows.Close()

	snapshot := make(map[string]*models.FundRecord)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		snapshot[record.FundCode] = record
	}
	return snapshot, rows.Err()
}

// CountForDate returns the number of records for one region and date
func (s *Store) CountForDate(ctx context.Context, region models.Region, date time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fund_data WHERE region = ? AND date = ?",
		region.String(), date.Format(models.DateFormat)).Scan(&count)
	if err != nil {
		return 0, errors.StoreError(errors.CodeStoreUnavailable, "count", err)
	}
	return count, nil
}

// LatestDateBefore returns the most recent stored date strictly before the
// given date for a region, or a zero time when none exists.
func (s *Store) LatestDateBefore(ctx context.Context, region models.Region, date time.Time) (time.Time, error) {
	var stored sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(date) FROM fund_data WHERE region = ? AND date < ?",
		region.String(), date.Format(models.DateFormat)).Scan(&stored)
	if err != nil {
		return time.Time{}, errors.StoreError(errors.CodeStoreUnavailable, "latest date", err)
	}
	if !stored.Valid {
		return time.Time{}, nil
	}
	return time.Parse(models.DateFormat, stored.String)
}

// DistinctDates returns the stored dates for a region within [from, to],
// ascending.
func (s *Store) DistinctDates(ctx context.Context, region models.Region, from, to time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT date FROM fund_data WHERE region = ? AND date >= ? AND date <= ? ORDER BY date",
		region.String(), from.Format(models.DateFormat), to.Format(models.DateFormat))
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "distinct dates", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.StoreError(errors.CodeStoreUnavailable, "distinct dates", err)
		}
		date, err := time.Parse(models.DateFormat, raw)
		if err != nil {
			return nil, errors.StoreError(errors.CodeStoreUnavailable, "distinct dates", err)
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

// InsertRecords inserts records within the given transaction. When a record
// carries a non-zero CreatedAt it is preserved; otherwise the column default
// applies. The distinction matters to reconciliation: replaced rows get a
// fresh timestamp, patched rows keep their original one.
func InsertRecords(tx *sql.Tx, records []*models.FundRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fundDataColumns)), ", ")
	withDefault, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO fund_data (date, region, fund_code, %s) VALUES (?, ?, ?, %s)",
		strings.Join(fundDataColumns, ", "), placeholders))
	if err != nil {
		return 0, errors.StoreError(errors.CodeTransactionFailed, "prepare insert", err)
	}
	defer withDefault.Close()

	withCreatedAt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO fund_data (date, region, fund_code, %s, created_at) VALUES (?, ?, ?, %s, ?)",
		strings.Join(fundDataColumns, ", "), placeholders))
	if err != nil {
		return 0, errors.StoreError(errors.CodeTransactionFailed, "prepare insert", err)
	}
	defer withCreatedAt.Close()

	inserted := 0
	for _, record := range records {
		if err := record.Validate(); err != nil {
			return inserted, errors.ValidationError(errors.CodeMissingField, "record", record.Key(), err)
		}

		args := insertArgs(record)
		if record.CreatedAt.IsZero() {
			_, err = withDefault.Exec(args...)
		} else {
			_, err = withCreatedAt.Exec(append(args, record.CreatedAt)...)
		}
		if err != nil {
			return inserted, errors.StoreError(errors.CodeConstraintViolation, "insert", err).
				WithContext("key", record.Key())
		}
		inserted++
	}
	return inserted, nil
}

// DeleteDates removes all records for a region on the given dates, within
// the transaction. Returns the number of rows removed.
func DeleteDates(tx *sql.Tx, region models.Region, dates []time.Time) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(dates)), ", ")
	args := make([]interface{}, 0, len(dates)+1)
	args = append(args, region.String())
	for _, d := range dates {
		args = append(args, d.Format(models.DateFormat))
	}

	result, err := tx.Exec(fmt.Sprintf(
		"DELETE FROM fund_data WHERE region = ? AND date IN (%s)", placeholders), args...)
	if err != nil {
		return 0, errors.StoreError(errors.CodeTransactionFailed, "delete dates", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// PatchRecord updates only the named numeric fields of one record, within
// the transaction. The row's created_at is untouched. Returns the number of
// rows affected; patching an absent row affects zero rows and is not an
// error.
func PatchRecord(tx *sql.Tx, region models.Region, date time.Time, fundCode string, fields map[string]*float64) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	assignments := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+3)
	for _, name := range models.NumericFieldNames() {
		value, ok := fields[name]
		if !ok {
			continue
		}
		assignments = append(assignments, name+" = ?")
		if value == nil {
			args = append(args, nil)
		} else {
			args = append(args, *value)
		}
	}
	if len(assignments) == 0 {
		return 0, errors.ValidationError(errors.CodeMissingField, "fields", fields, nil)
	}

	args = append(args, date.Format(models.DateFormat), region.String(), fundCode)
	result, err := tx.Exec(fmt.Sprintf(
		"UPDATE fund_data SET %s WHERE date = ? AND region = ? AND fund_code = ?",
		strings.Join(assignments, ", ")), args...)
	if err != nil {
		return 0, errors.StoreError(errors.CodeTransactionFailed, "patch record", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// DeleteRecord removes one record by primary key within the transaction.
// Returns the number of rows removed (0 or 1).
func DeleteRecord(tx *sql.Tx, region models.Region, date time.Time, fundCode string) (int, error) {
	result, err := tx.Exec(
		"DELETE FROM fund_data WHERE date = ? AND region = ? AND fund_code = ?",
		date.Format(models.DateFormat), region.String(), fundCode)
	if err != nil {
		return 0, errors.StoreError(errors.CodeTransactionFailed, "delete record", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// CarryForward copies all of a region's records from one date to another
// within the transaction, rewriting only the date. Existing rows on the
// target date are removed first so the operation is idempotent.
func CarryForward(tx *sql.Tx, region models.Region, from, to time.Time) (int, error) {
	if _, err := DeleteDates(tx, region, []time.Time{to}); err != nil {
		return 0, err
	}

	result, err := tx.Exec(fmt.Sprintf(
		"INSERT INTO fund_data (date, region, fund_code, %s) SELECT ?, region, fund_code, %s FROM fund_data WHERE region = ? AND date = ?",
		strings.Join(fundDataColumns, ", "), strings.Join(fundDataColumns, ", ")),
		to.Format(models.DateFormat), region.String(), from.Format(models.DateFormat))
	if err != nil {
		return 0, errors.StoreError(errors.CodeTransactionFailed, "carry forward", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// ETLLogEntry is one row of the etl_log run history
type ETLLogEntry struct {
	RunDate          time.Time
	DataDate         time.Time
	Region           models.Region
	Status           string
	RecordsProcessed int
	ErrorMessage     string
}

// LogETLRun appends a run history entry
func (s *Store) LogETLRun(ctx context.Context, entry ETLLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO etl_log (run_date, data_date, region, status, records_processed, error_message) VALUES (?, ?, ?, ?, ?, ?)",
		entry.RunDate.Format(models.DateFormat),
		entry.DataDate.Format(models.DateFormat),
		entry.Region.String(),
		entry.Status,
		entry.RecordsProcessed,
		entry.ErrorMessage)
	if err != nil {
		return errors.StoreError(errors.CodeStoreUnavailable, "log etl run", err)
	}
	return nil
}

// LoadedDataDates returns the data dates the etl_log records as successfully
// loaded for a region within [from, to]. Used by backfill to find gaps.
func (s *Store) LoadedDataDates(ctx context.Context, region models.Region, from, to time.Time) (map[time.Time]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT data_date FROM etl_log WHERE region = ? AND status = 'success' AND data_date >= ? AND data_date <= ?",
		region.String(), from.Format(models.DateFormat), to.Format(models.DateFormat))
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "loaded dates", err)
	}
	defer rows.Close()

	loaded := make(map[time.Time]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.StoreError(errors.CodeStoreUnavailable, "loaded dates", err)
		}
		date, err := time.Parse(models.DateFormat, raw)
		if err != nil {
			return nil, errors.StoreError(errors.CodeStoreUnavailable, "loaded dates", err)
		}
		loaded[date] = true
	}
	return loaded, rows.Err()
}

func insertArgs(r *models.FundRecord) []interface{} {
	args := []interface{}{
		r.Date.Format(models.DateFormat), r.Region.String(), r.FundCode,
		r.FundName, r.MasterClassFundName, r.Rating, r.UniqueIdentifier,
		r.NASDAQ, r.FundComplex, r.Subcategory, r.Domicile, r.Currency,
	}
	for _, name := range []string{
		"share_class_assets", "portfolio_assets",
		"one_day_yield", "one_day_gross_yield",
		"seven_day_yield", "seven_day_gross_yield",
		"expense_ratio", "wam", "wal",
	} {
		args = append(args, numericArg(r, name))
	}
	args = append(args, r.TransactionalNAV, r.MarketNAV)
	args = append(args, numericArg(r, "daily_liquidity"), numericArg(r, "weekly_liquidity"))
	args = append(args, r.Fees, r.Gates)
	return args
}

func numericArg(r *models.FundRecord, name string) interface{} {
	if v, ok := r.NumericField(name); ok && v != nil {
		return *v
	}
	return nil
}

// scanRecord maps one fund_data row onto a FundRecord, translating SQL nulls
// to nil numeric pointers.
func scanRecord(rows *sql.Rows) (*models.FundRecord, error) {
	var (
		rawDate, rawRegion string
		record             models.FundRecord
		text               [13]sql.NullString
		numeric            [11]sql.NullFloat64
		createdAt          sql.NullTime
	)

	err := rows.Scan(
		&rawDate, &rawRegion, &record.FundCode,
		&text[0], &text[1], &text[2], &text[3], &text[4],
		&text[5], &text[6], &text[7], &text[8],
		&numeric[0], &numeric[1], &numeric[2], &numeric[3], &numeric[4],
		&numeric[5], &numeric[6], &numeric[7], &numeric[8],
		&text[9], &text[10],
		&numeric[9], &numeric[10],
		&text[11], &text[12],
		&createdAt,
	)
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "scan record", err)
	}

	record.Date, err = time.Parse(models.DateFormat, rawDate)
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreUnavailable, "scan record", err)
	}
	record.Region = models.Region(rawRegion)

	record.FundName = text[0].String
	record.MasterClassFundName = text[1].String
	record.Rating = text[2].String
	record.UniqueIdentifier = text[3].String
	record.NASDAQ = text[4].String
	record.FundComplex = text[5].String
	record.Subcategory = text[6].String
	record.Domicile = text[7].String
	record.Currency = text[8].String
	record.TransactionalNAV = text[9].String
	record.MarketNAV = text[10].String
	record.Fees = text[11].String
	record.Gates = text[12].String

	numericNames := []string{
		"share_class_assets", "portfolio_assets",
		"one_day_yield", "one_day_gross_yield",
		"seven_day_yield", "seven_day_gross_yield",
		"expense_ratio", "wam", "wal",
		"daily_liquidity", "weekly_liquidity",
	}
	for i, name := range numericNames {
		if numeric[i].Valid {
			value := numeric[i].Float64
			record.SetNumericField(name, &value)
		}
	}

	if createdAt.Valid {
		record.CreatedAt = createdAt.Time
	}
	return &record, nil
}
