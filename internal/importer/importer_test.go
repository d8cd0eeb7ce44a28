package importer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"failurebot/internal/domain"
	"failurebot/internal/integrations/salesforce"
	"failurebot/internal/stepname"
	"failurebot/internal/storage"
)

type fakeSource struct {
	mu          sync.Mutex
	byCase      map[int][]salesforce.WorkRecord
	byStep      map[string][]salesforce.WorkRecord
	bodies      map[string][]byte
	downloadErr map[string]error
	listErr     error
	downloads   []string
	lists       int
}

func (f *fakeSource) FailedAttachmentsByStep(_ context.Context, step string) ([]salesforce.WorkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return f.byStep[step], f.listErr
}

func (f *fakeSource) FailedAttachmentsByCase(_ context.Context, n int) ([]salesforce.WorkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return f.byCase[n], f.listErr
}

func (f *fakeSource) DownloadAttachment(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, id)
	if err := f.downloadErr[id]; err != nil {
		return nil, err
	}
	return f.bodies[id], nil
}

type staticCatalog []string

func (c staticCatalog) LoadStepNames(context.Context) ([]string, error) { return c, nil }

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.InitDB(filepath.Join(t.TempDir(), "import-test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestImporter(t *testing.T, src *fakeSource) (*Importer, *storage.Store) {
	t.Helper()
	st := newTestStore(t)
	steps := stepname.NewNormalizer(staticCatalog{"SSH_TO_ALL_HOSTS", "GRIDFORCE_APP_LOG_COPY"})
	return New(src, st, steps, 1<<20), st
}

type tarEntry struct {
	name string
	body string
}

func buildTarGz(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

const caseSubject = "W-777 Step: ssh_to_all_hosts_retry_2, Status: FAILED, Case: 123456, Host: ops-app-1-ia2 PMD/IR"

func TestImportLogsRequiresExactlyOneFilter(t *testing.T) {
	src := &fakeSource{}
	im, _ := newTestImporter(t, src)
	ctx := context.Background()

	if _, err := im.ImportLogs(ctx, nil, nil); !errors.Is(err, domain.ErrMissingImportFilter) {
		t.Fatalf("expected ErrMissingImportFilter, got %v", err)
	}
	if _, err := im.ImportLogs(ctx, nil, domain.StringPtr("  ")); !errors.Is(err, domain.ErrMissingImportFilter) {
		t.Fatalf("blank step: expected ErrMissingImportFilter, got %v", err)
	}
	if _, err := im.ImportLogs(ctx, domain.IntPtr(1), domain.StringPtr("X")); !errors.Is(err, domain.ErrConflictingImportFilter) {
		t.Fatalf("expected ErrConflictingImportFilter, got %v", err)
	}
	if src.lists != 0 {
		t.Fatalf("no tracker call expected, got %d", src.lists)
	}
}

func TestImportLogsSkipsStoredAndCountsFailures(t *testing.T) {
	archive := buildTarGz(t,
		tarEntry{"logs/ssh_to_all_hosts_retry_2.log", "2025-05-14 10:00:00 INFO boot\n2025-05-14 10:00:01 ERROR ssh: handshake failed\n"},
		tarEntry{"logs/ssh_to_all_hosts_retry_2-node2.log", "2025-05-14 10:00:00 all fine here\n"},
		tarEntry{"logs/other_step.log", "2025-05-14 10:00:00 ERROR unrelated\n"},
		tarEntry{"../ssh_to_all_hosts_retry_2-escape.log", "ERROR escape"},
	)
	src := &fakeSource{
		byCase: map[int][]salesforce.WorkRecord{123456: {{
			ID:      "a0X1",
			Subject: caseSubject,
			Attachments: []salesforce.Attachment{
				{ID: "00P-old", Name: "old.tar.gz", LastModifiedDate: "2025-05-01T00:00:00.000+0000"},
				{ID: "00P-new", Name: "pmd_logs.tar.gz", LastModifiedDate: "2025-05-14T10:00:00.000+0000"},
				{ID: "00P-bad", Name: "broken.tar.gz"},
			},
		}}},
		bodies:      map[string][]byte{"00P-new": archive},
		downloadErr: map[string]error{"00P-bad": errors.New("connection reset")},
	}
	im, st := newTestImporter(t, src)
	ctx := context.Background()
	if _, err := st.InsertFailureLogs(ctx, []domain.FailureLogRecord{{AttachmentID: "00P-old", StepName: "SSH_TO_ALL_HOSTS", Content: []byte("x")}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	summary, err := im.ImportLogs(ctx, domain.IntPtr(123456), nil)
	if err != nil {
		t.Fatalf("ImportLogs: %v", err)
	}
	want := domain.ImportSummary{
		TotalAttachments:     3,
		ProcessedAttachments: 2,
		SkippedAttachments:   1,
		SuccessfulLogs:       1,
		FailedLogs:           1,
		StoredRecords:        2,
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if !summary.Balanced() {
		t.Fatalf("summary not balanced: %+v", summary)
	}
	for _, id := range src.downloads {
		if id == "00P-old" {
			t.Fatal("stored attachment must not be downloaded again")
		}
	}

	first, err := st.GetFailureLogByAttachment(ctx, "00P-new")
	if err != nil {
		t.Fatalf("GetFailureLogByAttachment: %v", err)
	}
	if first.StepName != "SSH_TO_ALL_HOSTS" || first.WorkID != "W-777" || first.CaseNumber != 123456 || first.Datacenter != "ia2" || first.RecordID != "a0X1" {
		t.Fatalf("unexpected record: %+v", first)
	}
	if !first.ReportDate.Equal(time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("report date = %s", first.ReportDate)
	}
	if !strings.Contains(string(first.Content), "handshake failed") {
		t.Fatalf("content = %q", first.Content)
	}

	second, err := st.GetFailureLogByAttachment(ctx, "00P-new#1")
	if err != nil {
		t.Fatalf("second log file: %v", err)
	}
	if string(second.Content) != "2025-05-14 10:00:00 all fine here\n" {
		t.Fatalf("content without errors should be stored whole, got %q", second.Content)
	}

	again, err := im.ImportLogs(ctx, domain.IntPtr(123456), nil)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.SkippedAttachments != 2 || again.ProcessedAttachments != 1 || !again.Balanced() {
		t.Fatalf("re-import summary: %+v", again)
	}
}

func TestImportLogsByStepStoresPlainAndGzipAttachments(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte("2025-05-14 10:00:00 FATAL copy aborted\n"))
	_ = zw.Close()

	src := &fakeSource{
		byStep: map[string][]salesforce.WorkRecord{"GRIDFORCE_APP_LOG_COPY": {
			{ID: "a01", Subject: "W-1 Step: GRIDFORCE_APP_LOG_COPY, Status: FAILED", Attachments: []salesforce.Attachment{{ID: "P1", Name: "copy.log"}}},
			{ID: "a02", Subject: "W-2", Attachments: []salesforce.Attachment{{ID: "P2", Name: "copy.log.gz"}}},
			{ID: "a03", Subject: "W-3"},
		}},
		bodies: map[string][]byte{
			"P1": []byte("2025-05-14 10:00:00 ERROR copy failed\n"),
			"P2": gz.Bytes(),
		},
	}
	im, st := newTestImporter(t, src)
	ctx := context.Background()

	summary, err := im.ImportLogs(ctx, nil, domain.StringPtr("GRIDFORCE_APP_LOG_COPY"))
	if err != nil {
		t.Fatalf("ImportLogs: %v", err)
	}
	if summary.TotalAttachments != 2 || summary.SuccessfulLogs != 2 || summary.StoredRecords != 2 || !summary.Balanced() {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	rec, err := st.GetFailureLogByAttachment(ctx, "P2")
	if err != nil {
		t.Fatalf("GetFailureLogByAttachment: %v", err)
	}
	if rec.StepName != "GRIDFORCE_APP_LOG_COPY" || !strings.Contains(string(rec.Content), "FATAL copy aborted") {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestImportLogsNothingFound(t *testing.T) {
	im, _ := newTestImporter(t, &fakeSource{})
	summary, err := im.ImportLogs(context.Background(), domain.IntPtr(42), nil)
	if err != nil {
		t.Fatalf("ImportLogs: %v", err)
	}
	if summary != (domain.ImportSummary{}) {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}

func TestImportLogsAuthFailureIsFatal(t *testing.T) {
	authErr := &domain.ImportAuthError{Err: errors.New("INVALID_SESSION_ID")}

	im, _ := newTestImporter(t, &fakeSource{listErr: authErr})
	_, err := im.ImportLogs(context.Background(), domain.IntPtr(1), nil)
	var got *domain.ImportAuthError
	if !errors.As(err, &got) {
		t.Fatalf("listing: expected ImportAuthError, got %v", err)
	}

	src := &fakeSource{
		byCase: map[int][]salesforce.WorkRecord{1: {{
			ID: "a01", Subject: "W-1",
			Attachments: []salesforce.Attachment{{ID: "P1", Name: "a.log"}, {ID: "P2", Name: "b.log"}},
		}}},
		bodies:      map[string][]byte{"P2": []byte("ERROR x")},
		downloadErr: map[string]error{"P1": authErr},
	}
	im, _ = newTestImporter(t, src)
	summary, err := im.ImportLogs(context.Background(), domain.IntPtr(1), nil)
	if !errors.As(err, &got) {
		t.Fatalf("download: expected ImportAuthError, got %v", err)
	}
	if !summary.Balanced() || summary.ProcessedAttachments+summary.SkippedAttachments > summary.TotalAttachments {
		t.Fatalf("partial summary not balanced: %+v", summary)
	}
}

func TestListingErrorIsWrapped(t *testing.T) {
	im, _ := newTestImporter(t, &fakeSource{listErr: errors.New("HTTP 503")})
	_, err := im.ImportLogs(context.Background(), nil, domain.StringPtr("SSH_TO_ALL_HOSTS"))
	if err == nil || !strings.Contains(err.Error(), "listing attachments for step SSH_TO_ALL_HOSTS") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExtractTarGzGuards(t *testing.T) {
	archive := buildTarGz(t,
		tarEntry{"/etc/ssh_to_all_hosts.log", "ERROR abs"},
		tarEntry{"a/../../ssh_to_all_hosts.log", "ERROR up"},
		tarEntry{"big/ssh_to_all_hosts_big.log", strings.Repeat("E", 64)},
		tarEntry{"ok/SSH_TO_ALL_HOSTS.LOG", "ERROR ok"},
		tarEntry{"ok/ssh_to_all_hosts.txt", "ERROR wrong ext"},
	)
	files, err := extractTarGz(archive, "ssh_to_all_hosts", 32)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(files) != 1 || files[0].name != "ok/SSH_TO_ALL_HOSTS.LOG" {
		t.Fatalf("unexpected files: %+v", files)
	}

	if _, err := extractTarGz(archive, "nothing_matches", 32); !errors.Is(err, errNoLogFiles) {
		t.Fatalf("expected errNoLogFiles, got %v", err)
	}
	if _, err := extractTarGz([]byte("not gzip"), "", 32); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
}

func TestCriteria(t *testing.T) {
	if got := Criteria(domain.IntPtr(5), nil); got != "case 5" {
		t.Fatalf("Criteria = %q", got)
	}
	if got := Criteria(nil, domain.StringPtr("SSH_TO_ALL_HOSTS")); got != "step SSH_TO_ALL_HOSTS" {
		t.Fatalf("Criteria = %q", got)
	}
}
