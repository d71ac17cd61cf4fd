package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/metrics"
	"github.com/anstrom/tracerama/internal/scanning"
)

// DefaultListLimit caps list queries that pass no limit.
const DefaultListLimit = 100

type resultRow struct {
	ID              string    `db:"id"`
	Target          string    `db:"target"`
	Port            int       `db:"port"`
	Protocol        string    `db:"protocol"`
	ResolvedAddress string    `db:"resolved_address"`
	TargetReached   bool      `db:"target_reached"`
	TraceProbe      string    `db:"trace_probe"`
	StartedAt       time.Time `db:"started_at"`
	DurationMs      int64     `db:"duration_ms"`
	ExitSuccess     bool      `db:"exit_success"`
	ExitCode        int       `db:"exit_code"`
	Diagnostic      string    `db:"diagnostic"`
	Failure         string    `db:"failure"`
	HostsUp         int       `db:"hosts_up"`
	ElapsedMs       int64     `db:"elapsed_ms"`
}

type hopRow struct {
	ResultID  string          `db:"result_id"`
	HopNumber int             `db:"hop_number"`
	Address   string          `db:"address"`
	Hostname  string          `db:"hostname"`
	RTTMs     sql.NullFloat64 `db:"rtt_ms"`
	Status    string          `db:"status"`
}

func toResultRow(r *scanning.ScanResult) resultRow {
	return resultRow{
		ID:              r.ID,
		Target:          r.Target,
		Port:            r.Port,
		Protocol:        string(r.Protocol),
		ResolvedAddress: r.ResolvedAddress,
		TargetReached:   r.TargetReached,
		TraceProbe:      r.TraceProbe,
		StartedAt:       r.StartedAt,
		DurationMs:      r.Duration.Milliseconds(),
		ExitSuccess:     r.Exit.Success,
		ExitCode:        r.Exit.Code,
		Diagnostic:      r.Exit.Diagnostic,
		Failure:         string(r.Failure),
		HostsUp:         r.Summary.HostsUp,
		ElapsedMs:       r.Summary.Elapsed.Milliseconds(),
	}
}

func (row resultRow) toResult(hops []scanning.Hop) *scanning.ScanResult {
	if hops == nil {
		hops = []scanning.Hop{}
	}
	return &scanning.ScanResult{
		ID:              row.ID,
		Target:          row.Target,
		Port:            row.Port,
		Protocol:        scanning.Protocol(row.Protocol),
		Hops:            hops,
		ResolvedAddress: row.ResolvedAddress,
		TargetReached:   row.TargetReached,
		TraceProbe:      row.TraceProbe,
		StartedAt:       row.StartedAt,
		Duration:        time.Duration(row.DurationMs) * time.Millisecond,
		Exit: scanning.ExitStatus{
			Success:    row.ExitSuccess,
			Code:       row.ExitCode,
			Diagnostic: row.Diagnostic,
		},
		Summary: scanning.Summary{
			HostsUp: row.HostsUp,
			Elapsed: time.Duration(row.ElapsedMs) * time.Millisecond,
		},
		Failure: errors.ErrorCode(row.Failure),
	}
}

func (h hopRow) toHop() scanning.Hop {
	hop := scanning.Hop{
		Number:   h.HopNumber,
		Address:  h.Address,
		Hostname: h.Hostname,
		Status:   scanning.HopStatus(h.Status),
	}
	if h.RTTMs.Valid {
		hop.RTT = scanning.SomeRTT(h.RTTMs.Float64)
	}
	return hop
}

// ResultStore persists ScanResults and their hops.
type ResultStore struct {
	db      *DB
	metrics *metrics.PrometheusMetrics
}

// NewResultStore creates a store on db.
func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{db: db, metrics: metrics.GetGlobalMetrics()}
}

// Save inserts r and its hops in one transaction. Saving an ID twice fails.
func (s *ResultStore) Save(ctx context.Context, r *scanning.ScanResult) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordDatabaseQuery("save_result", time.Since(start), err == nil) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin save result", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO trace_results (id, target, port, protocol, resolved_address, target_reached,
			trace_probe, started_at, duration_ms, exit_success, exit_code, diagnostic, failure,
			hosts_up, elapsed_ms)
		VALUES (:id, :target, :port, :protocol, :resolved_address, :target_reached,
			:trace_probe, :started_at, :duration_ms, :exit_success, :exit_code, :diagnostic, :failure,
			:hosts_up, :elapsed_ms)`, toResultRow(r))
	if err != nil {
		return sanitizeDBError("insert result", err)
	}

	for _, h := range r.Hops {
		row := hopRow{
			ResultID:  r.ID,
			HopNumber: h.Number,
			Address:   h.Address,
			Hostname:  h.Hostname,
			RTTMs:     sql.NullFloat64{Float64: h.RTT.Ms, Valid: h.RTT.Valid},
			Status:    string(h.Status),
		}
		if _, err = tx.NamedExecContext(ctx, `
			INSERT INTO trace_hops (result_id, hop_number, address, hostname, rtt_ms, status)
			VALUES (:result_id, :hop_number, :address, :hostname, :rtt_ms, :status)`, row); err != nil {
			return sanitizeDBError("insert hop", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return sanitizeDBError("commit result", err)
	}
	return nil
}

const selectResults = `
	SELECT id, target, port, protocol, resolved_address, target_reached, trace_probe,
		started_at, duration_ms, exit_success, exit_code, diagnostic, failure, hosts_up, elapsed_ms
	FROM trace_results`

// Get loads one result by ID. A missing ID yields an error for which
// IsNotFound is true.
func (s *ResultStore) Get(ctx context.Context, id string) (*scanning.ScanResult, error) {
	var row resultRow
	if err := s.db.GetContext(ctx, &row, selectResults+` WHERE id = $1`, id); err != nil {
		return nil, sanitizeDBError("get result", err)
	}

	results, err := s.attachHops(ctx, []resultRow{row})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ListByKey returns the newest results for key, newest first.
func (s *ResultStore) ListByKey(ctx context.Context, key scanning.Key, limit int) ([]*scanning.ScanResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows, selectResults+`
		WHERE target = $1 AND port = $2 AND protocol = $3
		ORDER BY started_at DESC
		LIMIT $4`, key.Target, key.Port, string(key.Protocol), limit)
	if err != nil {
		return nil, sanitizeDBError("list results", err)
	}
	return s.attachHops(ctx, rows)
}

// Recent returns the newest results across all keys, newest first.
func (s *ResultStore) Recent(ctx context.Context, limit int) ([]*scanning.ScanResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, selectResults+` ORDER BY started_at DESC LIMIT $1`, limit); err != nil {
		return nil, sanitizeDBError("list recent results", err)
	}
	return s.attachHops(ctx, rows)
}

// Prune deletes results started before cutoff and returns how many went.
func (s *ResultStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trace_results WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, sanitizeDBError("prune results", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sanitizeDBError("prune results", err)
	}
	return n, nil
}

func (s *ResultStore) attachHops(ctx context.Context, rows []resultRow) ([]*scanning.ScanResult, error) {
	if len(rows) == 0 {
		return []*scanning.ScanResult{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	var hops []hopRow
	err := s.db.SelectContext(ctx, &hops, `
		SELECT result_id, hop_number, address, hostname, rtt_ms, status
		FROM trace_hops
		WHERE result_id = ANY($1)
		ORDER BY result_id, hop_number`, pq.Array(ids))
	if err != nil {
		return nil, sanitizeDBError("list hops", err)
	}

	byResult := make(map[string][]scanning.Hop, len(rows))
	for _, h := range hops {
		byResult[h.ResultID] = append(byResult[h.ResultID], h.toHop())
	}

	out := make([]*scanning.ScanResult, len(rows))
	for i, row := range rows {
		out[i] = row.toResult(byResult[row.ID])
	}
	return out, nil
}
