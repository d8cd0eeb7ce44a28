package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"failurebot/internal/domain"
)

// InsertFailureLogs stores records in one transaction. Content is compressed
// on the way in. Rows whose attachment_id already exists are left untouched
// and not counted.
func (s *Store) InsertFailureLogs(ctx context.Context, records []domain.FailureLogRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO pmd_failure_logs (record_id, work_id, case_number, step_name, attachment_id, datacenter, content, report_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (attachment_id) DO NOTHING`,
	))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		content, err := CompressContent(rec.Content)
		if err != nil {
			return inserted, fmt.Errorf("compress %s: %w", rec.AttachmentID, err)
		}
		res, err := stmt.ExecContext(ctx,
			nullString(rec.RecordID), nullString(rec.WorkID), nullInt(rec.CaseNumber),
			nullString(rec.StepName), rec.AttachmentID, nullString(rec.Datacenter),
			content, nullDate(rec.ReportDate),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert %s: %w", rec.AttachmentID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}

	return inserted, tx.Commit()
}

// ExistingAttachmentIDs returns the subset of ids already stored.
func (s *Store) ExistingAttachmentIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		part := ids[start:end]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		q := s.rebind(`SELECT attachment_id FROM pmd_failure_logs WHERE attachment_id IN (` +
			strings.TrimSuffix(strings.Repeat("?,", len(part)), ",") + `)`)
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			found[id] = true
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (s *Store) CountFailureLogs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pmd_failure_logs`).Scan(&n)
	return n, err
}

// GetFailureLogByAttachment loads one record with its content decompressed.
func (s *Store) GetFailureLogByAttachment(ctx context.Context, attachmentID string) (domain.FailureLogRecord, error) {
	var (
		rec                                    domain.FailureLogRecord
		recordID, workID, stepName, datacenter sql.NullString
		caseNumber                             sql.NullInt64
		content                                []byte
		reportDate                             any
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, record_id, work_id, case_number, step_name, attachment_id, datacenter, content, report_date
		 FROM pmd_failure_logs WHERE attachment_id = ?`), attachmentID,
	).Scan(&rec.ID, &recordID, &workID, &caseNumber, &stepName, &rec.AttachmentID, &datacenter, &content, &reportDate)
	if err != nil {
		return rec, err
	}
	rec.RecordID = recordID.String
	rec.WorkID = workID.String
	rec.CaseNumber = int(caseNumber.Int64)
	rec.StepName = stepName.String
	rec.Datacenter = datacenter.String
	rec.Content = []byte(DecompressContent(content))
	switch v := reportDate.(type) {
	case time.Time:
		rec.ReportDate = v
	case string:
		rec.ReportDate, _ = time.Parse("2006-01-02", v)
	case []byte:
		rec.ReportDate, _ = time.Parse("2006-01-02", string(v))
	}
	return rec, nil
}

// QueryReadOnly runs a single validated SELECT inside a read-only transaction
// and materializes every row before returning. The id column is dropped and
// content is decompressed.
func (s *Store) QueryReadOnly(ctx context.Context, query string) (domain.RowSet, error) {
	var out domain.RowSet

	opts := &sql.TxOptions{ReadOnly: s.driver == DriverPostgres}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return out, err
	}
	for _, c := range cols {
		if strings.EqualFold(c, "id") {
			continue
		}
		out.Columns = append(out.Columns, c)
	}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return domain.RowSet{}, err
		}
		row := make(domain.Row, len(cols))
		for i, c := range cols {
			if strings.EqualFold(c, "id") {
				continue
			}
			row[c] = normalizeValue(c, vals[i])
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return domain.RowSet{}, err
	}
	return out, nil
}

func normalizeValue(column string, v any) any {
	switch val := v.(type) {
	case []byte:
		if strings.EqualFold(column, "content") {
			return DecompressContent(val)
		}
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02")
}
