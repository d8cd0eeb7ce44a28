// Package importer pulls failed-deployment log attachments from the case
// tracker into the failure log store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"failurebot/internal/domain"
	"failurebot/internal/integrations/salesforce"
	"failurebot/internal/logscan"
	"failurebot/internal/metrics"
)

const (
	unknownStep         = "UNKNOWN_STEP"
	defaultMaxFileBytes = 50 << 20
)

type Source interface {
	FailedAttachmentsByStep(ctx context.Context, stepName string) ([]salesforce.WorkRecord, error)
	FailedAttachmentsByCase(ctx context.Context, caseNumber int) ([]salesforce.WorkRecord, error)
	DownloadAttachment(ctx context.Context, attachmentID string) ([]byte, error)
}

type Store interface {
	ExistingAttachmentIDs(ctx context.Context, ids []string) (map[string]bool, error)
	InsertFailureLogs(ctx context.Context, records []domain.FailureLogRecord) (int, error)
}

type StepNormalizer interface {
	Normalize(ctx context.Context, raw string) string
}

type Importer struct {
	source       Source
	store        Store
	steps        StepNormalizer
	parallelism  int
	maxFileBytes int64
}

func New(source Source, store Store, steps StepNormalizer, maxFileBytes int64) *Importer {
	if maxFileBytes <= 0 {
		maxFileBytes = defaultMaxFileBytes
	}
	return &Importer{
		source:       source,
		store:        store,
		steps:        steps,
		parallelism:  min(max(runtime.NumCPU(), 2), 8),
		maxFileBytes: maxFileBytes,
	}
}

// job is one attachment with the work item it hangs off.
type job struct {
	attachment salesforce.Attachment
	recordID   string
	meta       salesforce.Metadata
	stepRaw    string
}

// Criteria renders the import filter the way user-facing messages name it.
func Criteria(caseNumber *int, stepName *string) string {
	if caseNumber != nil {
		return fmt.Sprintf("case %d", *caseNumber)
	}
	if stepName != nil {
		return "step " + *stepName
	}
	return "unknown filter"
}

// ImportLogs imports every failed attachment matching exactly one of
// caseNumber or stepName. Attachments already stored are skipped. A broken
// attachment is counted in FailedLogs and the rest continue; an
// authentication failure stops the batch and is returned as
// *domain.ImportAuthError together with the partial summary.
func (im *Importer) ImportLogs(ctx context.Context, caseNumber *int, stepName *string) (domain.ImportSummary, error) {
	var summary domain.ImportSummary
	if stepName != nil && strings.TrimSpace(*stepName) == "" {
		stepName = nil
	}
	switch {
	case caseNumber == nil && stepName == nil:
		return summary, domain.ErrMissingImportFilter
	case caseNumber != nil && stepName != nil:
		return summary, domain.ErrConflictingImportFilter
	}

	started := time.Now()
	criteria := Criteria(caseNumber, stepName)
	log.Printf("import start %s", criteria)

	var (
		records []salesforce.WorkRecord
		err     error
	)
	if caseNumber != nil {
		records, err = im.source.FailedAttachmentsByCase(ctx, *caseNumber)
	} else {
		records, err = im.source.FailedAttachmentsByStep(ctx, strings.TrimSpace(*stepName))
	}
	if err != nil {
		var authErr *domain.ImportAuthError
		if errors.As(err, &authErr) {
			return summary, err
		}
		return summary, fmt.Errorf("listing attachments for %s: %w", criteria, err)
	}

	var jobs []job
	for _, rec := range records {
		meta := salesforce.ParseMetadata(rec.Subject)
		stepRaw := meta.StepName
		if stepName != nil {
			stepRaw = strings.TrimSpace(*stepName)
		}
		for _, att := range rec.Attachments {
			jobs = append(jobs, job{attachment: att, recordID: rec.ID, meta: meta, stepRaw: stepRaw})
		}
	}
	summary.TotalAttachments = len(jobs)
	if len(jobs) == 0 {
		log.Printf("import none found %s", criteria)
		return summary, nil
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.attachment.ID
	}
	existing, err := im.store.ExistingAttachmentIDs(ctx, ids)
	if err != nil {
		return summary, fmt.Errorf("checking stored attachments: %w", err)
	}

	var pending []job
	for _, j := range jobs {
		if existing[j.attachment.ID] {
			summary.SkippedAttachments++
			continue
		}
		pending = append(pending, j)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.parallelism)
	for _, j := range pending {
		g.Go(func() error {
			stored, err := im.processAttachment(gctx, j)
			mu.Lock()
			defer mu.Unlock()
			summary.ProcessedAttachments++
			if err != nil {
				summary.FailedLogs++
				var authErr *domain.ImportAuthError
				if errors.As(err, &authErr) {
					return err
				}
				log.Printf("import attachment failed: %v", &domain.ImportAttachmentError{AttachmentID: j.attachment.ID, Err: err})
				return nil
			}
			summary.SuccessfulLogs++
			summary.StoredRecords += stored
			return nil
		})
	}
	err = g.Wait()

	metrics.RecordImport(summary.ProcessedAttachments, summary.SkippedAttachments, summary.SuccessfulLogs, summary.FailedLogs)
	log.Printf("import done %s total=%d processed=%d skipped=%d ok=%d failed=%d stored=%d elapsed=%s",
		criteria, summary.TotalAttachments, summary.ProcessedAttachments, summary.SkippedAttachments,
		summary.SuccessfulLogs, summary.FailedLogs, summary.StoredRecords, time.Since(started).Round(time.Millisecond))
	return summary, err
}

func (im *Importer) processAttachment(ctx context.Context, j job) (int, error) {
	data, err := im.source.DownloadAttachment(ctx, j.attachment.ID)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	files, err := unpack(j.attachment.Name, data, j.stepRaw, im.maxFileBytes)
	if err != nil {
		if errors.Is(err, errNoLogFiles) {
			return 0, fmt.Errorf("no log files found for step %q", j.stepRaw)
		}
		return 0, fmt.Errorf("unpack %s: %w", j.attachment.Name, err)
	}

	stepRaw := j.stepRaw
	if stepRaw == "" {
		stepRaw = unknownStep
	}
	step := im.steps.Normalize(ctx, stepRaw)
	reportDate := parseReportDate(j.attachment.LastModifiedDate)

	records := make([]domain.FailureLogRecord, 0, len(files))
	for i, f := range files {
		attachmentID := j.attachment.ID
		if i > 0 {
			attachmentID = fmt.Sprintf("%s#%d", j.attachment.ID, i)
		}
		content := logscan.ErrorContext(string(f.content))
		if content == "" {
			content = string(f.content)
		}
		records = append(records, domain.FailureLogRecord{
			RecordID:     j.recordID,
			WorkID:       j.meta.WorkID,
			CaseNumber:   j.meta.CaseNumber,
			StepName:     step,
			AttachmentID: attachmentID,
			Datacenter:   j.meta.Datacenter,
			ReportDate:   reportDate,
			Content:      []byte(content),
		})
	}
	stored, err := im.store.InsertFailureLogs(ctx, records)
	if err != nil {
		return stored, fmt.Errorf("persist: %w", err)
	}
	log.Printf("import attachment ok id=%s files=%d stored=%d step=%s", j.attachment.ID, len(files), stored, step)
	return stored, nil
}

// parseReportDate reads the leading yyyy-mm-dd of a tracker timestamp.
func parseReportDate(s string) time.Time {
	if len(s) < 10 {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		log.Printf("import bad last modified date %q: %v", s, err)
		return time.Time{}
	}
	return t
}
