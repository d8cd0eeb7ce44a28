package domain

import "time"

// FailureLogTable is the only relation generated queries may read.
const FailureLogTable = "pmd_failure_logs"

// FailureLogColumns are the columns of FailureLogTable, in schema order.
var FailureLogColumns = []string{
	"id", "record_id", "work_id", "case_number", "step_name",
	"attachment_id", "datacenter", "content", "report_date",
}

type FailureLogRecord struct {
	ID           int64
	RecordID     string
	WorkID       string
	CaseNumber   int
	StepName     string
	AttachmentID string
	Datacenter   string
	ReportDate   time.Time
	Content      []byte
}

type ImportSummary struct {
	TotalAttachments     int
	ProcessedAttachments int
	SkippedAttachments   int
	SuccessfulLogs       int
	FailedLogs           int
	// StoredRecords counts log files persisted; one attachment may hold several.
	StoredRecords        int
}

// Balanced reports whether the summary counters add up.
func (s ImportSummary) Balanced() bool {
	return s.ProcessedAttachments+s.SkippedAttachments == s.TotalAttachments &&
		s.SuccessfulLogs+s.FailedLogs == s.ProcessedAttachments
}

type QueryPlan struct {
	SQL         string
	Explanation string
	Kind        Intent
}

// Row is one result row keyed by column name.
type Row map[string]any

// RowSet is a fully materialized query result.
type RowSet struct {
	Columns []string
	Rows    []Row
}

func (r RowSet) Len() int { return len(r.Rows) }
