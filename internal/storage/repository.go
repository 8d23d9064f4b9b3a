package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fx-rate-alerts/internal/rates"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const pgUniqueViolation = "23505"

const (
	insertObservationSQL = `INSERT INTO rate_observations (obs_date, rate)
    VALUES ($1, $2);`

	listObservationsBetweenSQL = `SELECT obs_date, rate::text
    FROM rate_observations
    WHERE obs_date >= $1
      AND obs_date <= $2
    ORDER BY obs_date;`

	observationRangeSQL = `SELECT MIN(obs_date), MAX(obs_date) FROM rate_observations;`

	countObservationsSQL = `SELECT COUNT(*) FROM rate_observations;`

	insertEvaluationSQL = `INSERT INTO evaluations (
        run_ts,
        obs_date,
        current_rate,
        average_rate,
        window_start,
        window_end,
        status
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (run_ts) DO NOTHING
    RETURNING id, run_ts, obs_date, current_rate::text, average_rate::text,
        window_start, window_end, status, created_at;`

	selectEvaluationSQL = `SELECT
        id, run_ts, obs_date, current_rate::text, average_rate::text,
        window_start, window_end, status, created_at
    FROM evaluations`

	getEvaluationByRunTSSQL   = selectEvaluationSQL + ` WHERE run_ts = $1;`
	latestEvaluationSQL       = selectEvaluationSQL + ` ORDER BY run_ts DESC LIMIT 1;`
	listRecentEvaluationsSQL  = selectEvaluationSQL + ` ORDER BY run_ts DESC LIMIT $1;`

	insertDispatchRecordSQL = `INSERT INTO dispatch_records (subscriber_id, evaluation_id, sent_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (subscriber_id, evaluation_id) DO NOTHING;`

	hasDispatchRecordSQL = `SELECT EXISTS (
        SELECT 1 FROM dispatch_records WHERE subscriber_id = $1 AND evaluation_id = $2
    );`

	countDispatchRecordsSQL = `SELECT COUNT(*) FROM dispatch_records WHERE evaluation_id = $1;`

	listSubscribedSQL = `SELECT id, email, subscribed, created_at
    FROM subscribers
    WHERE subscribed
    ORDER BY id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// EvaluationStore defines operations for evaluation persistence.
type EvaluationStore interface {
	InsertEvaluation(ctx context.Context, eval Evaluation) (Evaluation, error)
	GetEvaluationByRunTS(ctx context.Context, runTS time.Time) (Evaluation, error)
	LatestEvaluation(ctx context.Context) (Evaluation, error)
	ListRecentEvaluations(ctx context.Context, limit int) ([]Evaluation, error)
}

// DispatchStore defines operations for dispatch-record bookkeeping.
type DispatchStore interface {
	InsertDispatchRecord(ctx context.Context, rec DispatchRecord) (bool, error)
	HasDispatchRecord(ctx context.Context, subscriberID, evaluationID int64) (bool, error)
	CountDispatchRecords(ctx context.Context, evaluationID int64) (int64, error)
}

// SubscriberRegistry exposes the externally-owned subscriber table, read-only.
type SubscriberRegistry interface {
	ListSubscribed(ctx context.Context) ([]Subscriber, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations, evaluations, and dispatch records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; the lock dies with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertObservation appends a daily observation. A second insert for the same
// date fails with rates.ErrDuplicateObservation.
func (s *Store) InsertObservation(ctx context.Context, obs rates.Observation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertObservationSQL, obs.Date, obs.Rate.String()); execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == pgUniqueViolation {
			return rates.ErrDuplicateObservation
		}
		return fmt.Errorf("insert observation: %w", execErr)
	}
	return nil
}

// ListObservationsBetween lists observations within [from, to] ascending.
func (s *Store) ListObservationsBetween(ctx context.Context, from, to time.Time) ([]rates.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]rates.Observation, 0)
	for rows.Next() {
		var (
			date    time.Time
			rateStr string
		)
		if err := rows.Scan(&date, &rateStr); err != nil {
			return nil, err
		}
		rate, convErr := decimal.NewFromString(rateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse rate: %w", convErr)
		}
		observations = append(observations, rates.Observation{Date: date, Rate: rate})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// ObservationRange returns the earliest and latest stored observation dates.
// Both are zero when the table is empty.
func (s *Store) ObservationRange(ctx context.Context) (time.Time, time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	var first, last *time.Time
	if scanErr := pool.QueryRow(ctx, observationRangeSQL).Scan(&first, &last); scanErr != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("observation range: %w", scanErr)
	}
	if first == nil || last == nil {
		return time.Time{}, time.Time{}, nil
	}
	return *first, *last, nil
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// InsertEvaluation persists an evaluation keyed by its trigger instant.
// Replaying the same instant returns the previously stored row untouched.
func (s *Store) InsertEvaluation(ctx context.Context, eval Evaluation) (Evaluation, error) {
	pool, err := s.getPool()
	if err != nil {
		return Evaluation{}, err
	}

	row := pool.QueryRow(ctx, insertEvaluationSQL,
		eval.RunTS,
		eval.ObsDate,
		eval.CurrentRate.String(),
		eval.AverageRate.String(),
		eval.WindowStart,
		eval.WindowEnd,
		string(eval.Status),
	)

	stored, scanErr := scanEvaluation(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			// Conflict on run_ts: the evaluation already exists.
			return s.GetEvaluationByRunTS(ctx, eval.RunTS)
		}
		return Evaluation{}, fmt.Errorf("insert evaluation: %w", scanErr)
	}
	return stored, nil
}

// GetEvaluationByRunTS loads the evaluation for a trigger instant.
func (s *Store) GetEvaluationByRunTS(ctx context.Context, runTS time.Time) (Evaluation, error) {
	pool, err := s.getPool()
	if err != nil {
		return Evaluation{}, err
	}

	eval, scanErr := scanEvaluation(pool.QueryRow(ctx, getEvaluationByRunTSSQL, runTS))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Evaluation{}, ErrNotFound
		}
		return Evaluation{}, fmt.Errorf("get evaluation: %w", scanErr)
	}
	return eval, nil
}

// LatestEvaluation loads the most recently triggered evaluation.
func (s *Store) LatestEvaluation(ctx context.Context) (Evaluation, error) {
	pool, err := s.getPool()
	if err != nil {
		return Evaluation{}, err
	}

	eval, scanErr := scanEvaluation(pool.QueryRow(ctx, latestEvaluationSQL))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Evaluation{}, ErrNotFound
		}
		return Evaluation{}, fmt.Errorf("latest evaluation: %w", scanErr)
	}
	return eval, nil
}

// ListRecentEvaluations lists the most recent evaluations, newest first.
func (s *Store) ListRecentEvaluations(ctx context.Context, limit int) ([]Evaluation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEvaluationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent evaluations: %w", queryErr)
	}
	defer rows.Close()

	evaluations := make([]Evaluation, 0, limit)
	for rows.Next() {
		eval, scanErr := scanEvaluation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		evaluations = append(evaluations, eval)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return evaluations, nil
}

// InsertDispatchRecord claims the (subscriber, evaluation) pair. It reports
// false when a record for the pair already exists.
func (s *Store) InsertDispatchRecord(ctx context.Context, rec DispatchRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	cmdTag, execErr := pool.Exec(ctx, insertDispatchRecordSQL, rec.SubscriberID, rec.EvaluationID, sentAt)
	if execErr != nil {
		return false, fmt.Errorf("insert dispatch record: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// HasDispatchRecord reports whether the pair was already dispatched.
func (s *Store) HasDispatchRecord(ctx context.Context, subscriberID, evaluationID int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var exists bool
	if scanErr := pool.QueryRow(ctx, hasDispatchRecordSQL, subscriberID, evaluationID).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("has dispatch record: %w", scanErr)
	}
	return exists, nil
}

// CountDispatchRecords counts records for one evaluation.
func (s *Store) CountDispatchRecords(ctx context.Context, evaluationID int64) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int64
	if scanErr := pool.QueryRow(ctx, countDispatchRecordsSQL, evaluationID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count dispatch records: %w", scanErr)
	}
	return count, nil
}

// ListSubscribed lists subscribers with an active subscription.
func (s *Store) ListSubscribed(ctx context.Context) ([]Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSubscribedSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscribed: %w", queryErr)
	}
	defer rows.Close()

	subscribers := make([]Subscriber, 0)
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.Subscribed, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subscribers = append(subscribers, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subscribers, nil
}

var (
	_ rates.ObservationStore = (*Store)(nil)
	_ EvaluationStore        = (*Store)(nil)
	_ DispatchStore          = (*Store)(nil)
	_ SubscriberRegistry     = (*Store)(nil)
	_ AdvisoryLocker         = (*Store)(nil)
)

func scanEvaluation(row pgx.Row) (Evaluation, error) {
	var (
		eval       Evaluation
		currentStr string
		averageStr string
		status     string
	)

	if err := row.Scan(
		&eval.ID,
		&eval.RunTS,
		&eval.ObsDate,
		&currentStr,
		&averageStr,
		&eval.WindowStart,
		&eval.WindowEnd,
		&status,
		&eval.CreatedAt,
	); err != nil {
		return Evaluation{}, err
	}

	var convErr error
	eval.CurrentRate, convErr = decimal.NewFromString(currentStr)
	if convErr != nil {
		return Evaluation{}, fmt.Errorf("parse current rate: %w", convErr)
	}
	eval.AverageRate, convErr = decimal.NewFromString(averageStr)
	if convErr != nil {
		return Evaluation{}, fmt.Errorf("parse average rate: %w", convErr)
	}
	eval.Status = Status(status)

	return eval, nil
}
