package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"failurebot/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "failurebot-test.db")
	st, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind should be a no-op, got %q", got)
	}
}

func TestContentRoundTripAndRawFallback(t *testing.T) {
	compressed, err := CompressContent([]byte("ERROR: ssh timed out"))
	if err != nil {
		t.Fatalf("CompressContent: %v", err)
	}
	if got := DecompressContent(compressed); got != "ERROR: ssh timed out" {
		t.Fatalf("DecompressContent = %q", got)
	}
	if got := DecompressContent([]byte("plain legacy text")); got != "plain legacy text" {
		t.Fatalf("raw fallback = %q", got)
	}
	if got := DecompressContent(nil); got != "" {
		t.Fatalf("empty content = %q", got)
	}
}

func TestInsertFailureLogsSkipsDuplicateAttachments(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)

	recs := []domain.FailureLogRecord{
		{RecordID: "a0X1", WorkID: "W-100", CaseNumber: 123456, StepName: "SSH_TO_ALL_HOSTS", AttachmentID: "00P1", Datacenter: "ia2", ReportDate: date, Content: []byte("ERROR one")},
		{RecordID: "a0X2", WorkID: "W-101", CaseNumber: 123457, StepName: "KM_VALIDATION_RELENG", AttachmentID: "00P2", ReportDate: date, Content: []byte("ERROR two")},
	}
	n, err := st.InsertFailureLogs(ctx, recs)
	if err != nil {
		t.Fatalf("InsertFailureLogs: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted = %d, want 2", n)
	}

	n, err = st.InsertFailureLogs(ctx, recs[:1])
	if err != nil {
		t.Fatalf("re-insert should not fail: %v", err)
	}
	if n != 0 {
		t.Fatalf("re-insert inserted = %d, want 0", n)
	}

	total, err := st.CountFailureLogs(ctx)
	if err != nil || total != 2 {
		t.Fatalf("CountFailureLogs = %d, %v", total, err)
	}

	existing, err := st.ExistingAttachmentIDs(ctx, []string{"00P1", "00P9"})
	if err != nil {
		t.Fatalf("ExistingAttachmentIDs: %v", err)
	}
	if !existing["00P1"] || existing["00P9"] {
		t.Fatalf("unexpected existing set: %v", existing)
	}

	got, err := st.GetFailureLogByAttachment(ctx, "00P1")
	if err != nil {
		t.Fatalf("GetFailureLogByAttachment: %v", err)
	}
	if string(got.Content) != "ERROR one" || got.CaseNumber != 123456 || got.Datacenter != "ia2" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.ReportDate.Equal(date) {
		t.Fatalf("report date = %s, want %s", got.ReportDate, date)
	}
}

func TestQueryReadOnlyDropsIDAndDecompresses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)
	_, err := st.InsertFailureLogs(ctx, []domain.FailureLogRecord{
		{WorkID: "W-1", CaseNumber: 1, StepName: "SSH_TO_ALL_HOSTS", AttachmentID: "A1", ReportDate: date, Content: []byte("ERROR boom")},
		{WorkID: "W-2", CaseNumber: 2, StepName: "SSH_TO_ALL_HOSTS", AttachmentID: "A2", ReportDate: date, Content: []byte("ERROR bang")},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	rs, err := st.QueryReadOnly(ctx, "SELECT id, work_id, content FROM pmd_failure_logs ORDER BY work_id LIMIT 10")
	if err != nil {
		t.Fatalf("QueryReadOnly: %v", err)
	}
	if len(rs.Columns) != 2 || rs.Columns[0] != "work_id" || rs.Columns[1] != "content" {
		t.Fatalf("unexpected columns: %v", rs.Columns)
	}
	if rs.Len() != 2 {
		t.Fatalf("rows = %d, want 2", rs.Len())
	}
	if _, ok := rs.Rows[0]["id"]; ok {
		t.Fatal("id column should be dropped")
	}
	if rs.Rows[0]["content"] != "ERROR boom" {
		t.Fatalf("content = %v", rs.Rows[0]["content"])
	}

	agg, err := st.QueryReadOnly(ctx, "SELECT step_name, COUNT(*) AS failures FROM pmd_failure_logs GROUP BY step_name LIMIT 500")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Len() != 1 || agg.Rows[0]["failures"] != int64(2) {
		t.Fatalf("unexpected aggregate: %+v", agg.Rows)
	}
}

func TestQueryReadOnlyReturnsNoPartialRowsOnError(t *testing.T) {
	st := newTestStore(t)
	rs, err := st.QueryReadOnly(context.Background(), "SELECT nope FROM pmd_failure_logs LIMIT 1")
	if err == nil {
		t.Fatal("expected error for unknown column")
	}
	if rs.Len() != 0 || rs.Columns != nil {
		t.Fatalf("expected empty row set on error, got %+v", rs)
	}
}

func TestSeedStepNames(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := filepath.Join(t.TempDir(), "STEP_NAMES.md")
	content := "# canonical steps\n\nssh_to_all_hosts\nGRIDFORCE_APP_LOG_COPY\n  km_validation_releng  \n"
	if err := os.WriteFile(seed, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := st.SeedStepNames(ctx, seed)
	if err != nil {
		t.Fatalf("SeedStepNames: %v", err)
	}
	if n != 3 {
		t.Fatalf("seeded %d, want 3", n)
	}

	names, err := st.LoadStepNames(ctx)
	if err != nil {
		t.Fatalf("LoadStepNames: %v", err)
	}
	want := []string{"SSH_TO_ALL_HOSTS", "GRIDFORCE_APP_LOG_COPY", "KM_VALIDATION_RELENG"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	n, err = st.SeedStepNames(ctx, seed)
	if err != nil || n != 0 {
		t.Fatalf("second seed should be a no-op, got %d, %v", n, err)
	}

	n, err = st.SeedStepNames(ctx, filepath.Join(t.TempDir(), "missing.md"))
	if err != nil || n != 0 {
		t.Fatalf("missing seed file should be ignored, got %d, %v", n, err)
	}
}
