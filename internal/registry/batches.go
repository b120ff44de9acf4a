package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pyxis/internal/logging"
	"pyxis/internal/services"
)

const batchSummaryColumns = `id, status, error_message, source_name, record_id, version, alias, file_name,
    data_checksum, mapping_checksum, row_count, touched_identities, created_at, updated_at, started_at, finished_at`

const batchColumns = batchSummaryColumns + ", mapping, payload"

const claimNextAttempts = 5

func scanBatch(scanner interface{ Scan(dest ...any) error }, full bool) (*Batch, error) {
	var (
		b          Batch
		status     string
		errorMsg   sql.NullString
		sourceName sql.NullString
		recordID   sql.NullString
		version    sql.NullString
		alias      sql.NullString
		fileName   sql.NullString
		created    dbTime
		updated    dbTime
		started    dbTime
		finished   dbTime
		mapping    []byte
		payload    []byte
	)
	dest := []any{
		&b.ID, &status, &errorMsg, &sourceName, &recordID, &version, &alias, &fileName,
		&b.DataChecksum, &b.MappingChecksum, &b.Rows, &b.TouchedIdentities, &created, &updated, &started, &finished,
	}
	if full {
		dest = append(dest, &mapping, &payload)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	b.Status = Status(status)
	b.ErrorMessage = errorMsg.String
	b.SourceName = sourceName.String
	b.RecordID = recordID.String
	b.Version = version.String
	b.Alias = alias.String
	b.FileName = fileName.String
	b.CreatedAt = created.Time
	b.UpdatedAt = updated.Time
	b.StartedAt = started.ptr()
	b.FinishedAt = finished.ptr()
	if full {
		b.Mapping = append([]byte(nil), mapping...)
		b.Payload = append([]byte(nil), payload...)
	}
	return &b, nil
}

// CreateBatch stores an upload as a pending batch.
func (s *Store) CreateBatch(ctx context.Context, nb NewBatch) (*Batch, error) {
	ctx = ensureContext(ctx)
	if len(nb.Mapping) == 0 {
		return nil, &services.ConfigError{Field: "mapping", Reason: "mapping is required"}
	}
	now := s.now().UTC()
	b := &Batch{
		Status:          StatusPending,
		SourceName:      strings.TrimSpace(nb.SourceName),
		RecordID:        strings.TrimSpace(nb.RecordID),
		Version:         strings.TrimSpace(nb.Version),
		Alias:           strings.TrimSpace(nb.Alias),
		FileName:        strings.TrimSpace(nb.FileName),
		Mapping:         nb.Mapping,
		Payload:         nb.Payload,
		DataChecksum:    nb.DataChecksum,
		MappingChecksum: nb.MappingChecksum,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	payload := nb.Payload
	if payload == nil {
		payload = []byte{}
	}
	err := retryOnBusy(ctx, func() error {
		return s.queryRow(ctx,
			`INSERT INTO ingestion_batches (status, source_name, record_id, version, alias, file_name, mapping, payload,
                 data_checksum, mapping_checksum, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			string(StatusPending),
			nullableString(b.SourceName),
			nullableString(b.RecordID),
			nullableString(b.Version),
			nullableString(b.Alias),
			nullableString(b.FileName),
			string(nb.Mapping),
			payload,
			b.DataChecksum,
			b.MappingChecksum,
			formatTime(now),
			formatTime(now),
		).Scan(&b.ID)
	})
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "create batch", "", err)
	}
	s.logger.Info("batch submitted",
		logging.Int64(logging.FieldBatchID, b.ID),
		logging.String("file_name", b.FileName),
		logging.Int("payload_bytes", len(payload)),
		logging.String(logging.FieldEventType, "batch_submitted"),
	)
	return b, nil
}

// GetBatch loads one batch including its mapping and payload.
func (s *Store) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	b, err := scanBatch(s.queryRow(ensureContext(ctx), "SELECT "+batchColumns+" FROM ingestion_batches WHERE id = ?", id), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %d", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "get batch", "", err)
	}
	return b, nil
}

// ListBatches returns batch summaries, without payloads, optionally filtered
// by status, oldest first.
func (s *Store) ListBatches(ctx context.Context, statuses ...Status) ([]*Batch, error) {
	query := "SELECT " + batchSummaryColumns + " FROM ingestion_batches"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY id"
	return s.collectBatches(ensureContext(ctx), "list batches", query, args...)
}

// FindBatchesByChecksum returns earlier batches with the same payload and
// mapping checksums.
func (s *Store) FindBatchesByChecksum(ctx context.Context, dataChecksum, mappingChecksum string) ([]*Batch, error) {
	return s.collectBatches(ensureContext(ctx), "find batches",
		"SELECT "+batchSummaryColumns+" FROM ingestion_batches WHERE data_checksum = ? AND mapping_checksum = ? ORDER BY id",
		dataChecksum, mappingChecksum)
}

func (s *Store) collectBatches(ctx context.Context, op, query string, args ...any) ([]*Batch, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", op, "", err)
	}
	defer rows.Close()
	var out []*Batch
	for rows.Next() {
		b, err := scanBatch(rows, false)
		if err != nil {
			return nil, services.Wrap(services.ErrPersistence, "registry", op, "scan batch", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", op, "", err)
	}
	return out, nil
}

// Stats counts batches per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.query(ensureContext(ctx), "SELECT status, COUNT(1) FROM ingestion_batches GROUP BY status")
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "batch stats", "", err)
	}
	defer rows.Close()
	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, services.Wrap(services.ErrPersistence, "registry", "batch stats", "", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Claim moves a pending batch to processing. Claiming a batch that is not
// pending fails with ErrInvalidTransition.
func (s *Store) Claim(ctx context.Context, id int64) (*Batch, error) {
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE ingestion_batches
         SET status = ?, error_message = NULL, started_at = ?, finished_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(StatusProcessing), now, now, id, string(StatusPending),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "claim batch", "", err)
	}
	if err := s.requireTransition(ctx, res, id, StatusProcessing); err != nil {
		return nil, err
	}
	return s.GetBatch(ctx, id)
}

// ClaimNext claims the oldest pending batch. It returns nil when nothing is
// pending.
func (s *Store) ClaimNext(ctx context.Context) (*Batch, error) {
	ctx = ensureContext(ctx)
	for attempt := 0; attempt < claimNextAttempts; attempt++ {
		var id int64
		err := s.queryRow(ctx, "SELECT id FROM ingestion_batches WHERE status = ? ORDER BY id LIMIT 1", string(StatusPending)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, services.Wrap(services.ErrPersistence, "registry", "claim next batch", "", err)
		}
		b, err := s.Claim(ctx, id)
		if errors.Is(err, services.ErrInvalidTransition) {
			// another worker won the race
			continue
		}
		return b, err
	}
	return nil, nil
}

// Fail marks a processing batch failed and records its diagnostics. The whole
// transaction is retried while SQLite reports the database busy.
func (s *Store) Fail(ctx context.Context, id int64, message string, diagnostics []Diagnostic) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		return s.markFailed(ctx, id, message, diagnostics)
	})
	if err != nil {
		return err
	}
	s.logger.Warn("batch failed",
		logging.Int64(logging.FieldBatchID, id),
		logging.String("reason", message),
		logging.Int("diagnostics", len(diagnostics)),
		logging.String(logging.FieldEventType, "batch_failed"),
		logging.String(logging.FieldErrorHint, "inspect the batch diagnostics, fix the mapping or data, then retry the batch"),
	)
	return nil
}

func (s *Store) markFailed(ctx context.Context, id int64, message string, diagnostics []Diagnostic) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		now := formatTime(tx.now())
		res, err := tx.exec(ctx,
			`UPDATE ingestion_batches
             SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			string(StatusFailed), nullableString(strings.TrimSpace(message)), now, now, id, string(StatusProcessing),
		)
		if err != nil {
			return services.Wrap(services.ErrPersistence, "registry", "fail batch", "", err)
		}
		if err := tx.requireTransition(ctx, res, id, StatusFailed); err != nil {
			return err
		}
		return tx.AddDiagnostics(ctx, id, diagnostics)
	})
}

// Retry returns a failed batch to pending and discards the diagnostics of the
// failed run.
func (s *Store) Retry(ctx context.Context, id int64) (*Batch, error) {
	ctx = ensureContext(ctx)
	err := s.WithTx(ctx, func(tx *Tx) error {
		now := formatTime(tx.now())
		res, err := tx.exec(ctx,
			`UPDATE ingestion_batches
             SET status = ?, error_message = NULL, row_count = 0, touched_identities = 0,
                 started_at = NULL, finished_at = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			string(StatusPending), now, id, string(StatusFailed),
		)
		if err != nil {
			return services.Wrap(services.ErrPersistence, "registry", "retry batch", "", err)
		}
		if err := tx.requireTransition(ctx, res, id, StatusPending); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, "DELETE FROM batch_diagnostics WHERE batch_id = ?", id); err != nil {
			return services.Wrap(services.ErrPersistence, "registry", "retry batch", "clear diagnostics", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetBatch(ctx, id)
}

// ResetStuckProcessing fails batches left in processing by a previous run.
// Their transactions never committed, so nothing they touched persists.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE ingestion_batches
         SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
         WHERE status = ?`,
		string(StatusFailed), "interrupted before completion", now, now, string(StatusProcessing),
	)
	if err != nil {
		return 0, services.Wrap(services.ErrPersistence, "registry", "reset stuck batches", "", err)
	}
	return res.RowsAffected()
}

// CompleteBatch marks the batch completed inside the transaction that
// persisted its work.
func (t *Tx) CompleteBatch(ctx context.Context, id int64, done Completion) error {
	now := formatTime(t.now())
	res, err := t.exec(ctx,
		`UPDATE ingestion_batches
         SET status = ?, error_message = NULL, row_count = ?, touched_identities = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(StatusCompleted), done.Rows, done.TouchedIdentities, now, now, id, string(StatusProcessing),
	)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "registry", "complete batch", "", err)
	}
	if err := t.requireTransition(ctx, res, id, StatusCompleted); err != nil {
		return err
	}
	return t.AddDiagnostics(ctx, id, done.Diagnostics)
}

// AddDiagnostics appends diagnostics to a batch.
func (t *Tx) AddDiagnostics(ctx context.Context, batchID int64, diagnostics []Diagnostic) error {
	now := formatTime(t.now())
	for _, d := range diagnostics {
		if _, err := t.exec(ctx,
			`INSERT INTO batch_diagnostics (batch_id, row_number, kind, attribute, message, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			batchID, d.Row, d.Kind, nullableString(d.Attribute), d.Message, now,
		); err != nil {
			return services.Wrap(services.ErrPersistence, "registry", "add diagnostics", "", err)
		}
	}
	return nil
}

// Diagnostics lists a batch's diagnostics in row order.
func (r reader) Diagnostics(ctx context.Context, batchID int64) ([]Diagnostic, error) {
	rows, err := r.query(ctx,
		`SELECT id, batch_id, row_number, kind, attribute, message, created_at
         FROM batch_diagnostics WHERE batch_id = ? ORDER BY row_number, id`, batchID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "diagnostics", "", err)
	}
	defer rows.Close()
	var out []Diagnostic
	for rows.Next() {
		var (
			d         Diagnostic
			attribute sql.NullString
			created   dbTime
		)
		if err := rows.Scan(&d.ID, &d.BatchID, &d.Row, &d.Kind, &attribute, &d.Message, &created); err != nil {
			return nil, services.Wrap(services.ErrPersistence, "registry", "diagnostics", "", err)
		}
		d.Attribute = attribute.String
		d.CreatedAt = created.Time
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "diagnostics", "", err)
	}
	return out, nil
}

// requireTransition turns a zero-row status update into ErrNotFound or
// ErrInvalidTransition.
func (r reader) requireTransition(ctx context.Context, res sql.Result, id int64, to Status) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrPersistence, "registry", "batch transition", "", err)
	}
	if affected > 0 {
		return nil
	}
	var current string
	err = r.queryRow(ctx, "SELECT status FROM ingestion_batches WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: batch %d", services.ErrNotFound, id)
	}
	if err != nil {
		return services.Wrap(services.ErrPersistence, "registry", "batch transition", "", err)
	}
	return fmt.Errorf("%w: batch %d is %s, cannot move to %s", services.ErrInvalidTransition, id, current, to)
}
