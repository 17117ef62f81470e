package metrics

import (
	"context"
	"database/sql"
	"time"

	"diet-coach/internal/coach"
	"diet-coach/internal/database"
	"diet-coach/internal/logging"

	"go.uber.org/zap"
)

// BackendCall records one request to the coaching backend.
type BackendCall struct {
	Endpoint  string
	Status    int
	LatencyMS int64
	Error     string
	Timestamp time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logging.OrNop(logger), now: time.Now}
}

// Record saves a call to the database.
func (s *Store) Record(ctx context.Context, c BackendCall) error {
	ts := c.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	failed := 0
	if c.Error != "" {
		failed = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backend_calls (endpoint, status, latency_ms, failed, error, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Endpoint, c.Status, c.LatencyMS, failed, c.Error, ts.UTC().Format(database.TimeLayout))
	return err
}

// ObserveCall records a finished backend call. Failing to record never
// affects the call itself, so errors are only logged.
func (s *Store) ObserveCall(ctx context.Context, call coach.Call) {
	c := BackendCall{
		Endpoint:  call.Endpoint,
		Status:    call.Status,
		LatencyMS: call.Latency.Milliseconds(),
	}
	if call.Err != nil {
		c.Error = call.Err.Error()
	}
	// the caller's context may already be cancelled
	if err := s.Record(context.WithoutCancel(ctx), c); err != nil {
		s.logger.Warn("failed to record backend call", zap.String("endpoint", call.Endpoint), zap.Error(err))
	}
}

// DailyUsage represents call totals for a single day.
type DailyUsage struct {
	Date         string
	Calls        int
	Failures     int
	AvgLatencyMS int64
}

// GetDailyUsage retrieves usage for the last N days, newest first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := s.now().AddDate(0, 0, -days).UTC().Format(database.TimeLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(timestamp) AS day, COUNT(*), SUM(failed), CAST(AVG(latency_ms) AS INTEGER)
		FROM backend_calls
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.Calls, &u.Failures, &u.AvgLatencyMS); err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// EndpointUsage represents call totals for one endpoint.
type EndpointUsage struct {
	Endpoint     string
	Calls        int
	Failures     int
	AvgLatencyMS int64
	MaxLatencyMS int64
}

// GetEndpointUsage breaks the last N days down per endpoint, busiest first.
func (s *Store) GetEndpointUsage(ctx context.Context, days int) ([]EndpointUsage, error) {
	since := s.now().AddDate(0, 0, -days).UTC().Format(database.TimeLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, COUNT(*), SUM(failed), CAST(AVG(latency_ms) AS INTEGER), MAX(latency_ms)
		FROM backend_calls
		WHERE timestamp >= ?
		GROUP BY endpoint
		ORDER BY COUNT(*) DESC, endpoint`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EndpointUsage
	for rows.Next() {
		var u EndpointUsage
		if err := rows.Scan(&u.Endpoint, &u.Calls, &u.Failures, &u.AvgLatencyMS, &u.MaxLatencyMS); err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := s.now().AddDate(0, 0, -olderThanDays).UTC().Format(database.TimeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM backend_calls WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
