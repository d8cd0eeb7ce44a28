package domain

import (
	"fmt"
	"strings"
	"time"
)

type Intent string

const (
	IntentImport   Intent = "import"
	IntentMetrics  Intent = "metrics"
	IntentAnalysis Intent = "analysis"
)

// ParseIntent maps a model-reported intent onto the known set. The legacy
// "query" label and anything unrecognized fall back to metrics.
func ParseIntent(s string) Intent {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "import":
		return IntentImport
	case "analysis", "analyze", "analyse":
		return IntentAnalysis
	default:
		return IntentMetrics
	}
}

type ExtractionMethod string

const (
	MethodLLMExtraction ExtractionMethod = "LLM_EXTRACTION"
	MethodLLMParseError ExtractionMethod = "LLM_PARSE_ERROR"
	MethodLLMError      ExtractionMethod = "LLM_ERROR"
)

// FilterSet holds the filters extracted from a request. Nil means no filter.
type FilterSet struct {
	RecordID     *string
	WorkID       *string
	CaseNumber   *int
	StepName     *string
	AttachmentID *string
	Datacenter   *string
	ReportDate   *time.Time
	Query        string
}

// Applied lists the filters that are set, in a fixed order, for display.
func (f FilterSet) Applied() []string {
	var out []string
	if f.CaseNumber != nil {
		out = append(out, fmt.Sprintf("case %d", *f.CaseNumber))
	}
	if f.StepName != nil {
		out = append(out, "step "+*f.StepName)
	}
	if f.Datacenter != nil {
		out = append(out, "datacenter "+*f.Datacenter)
	}
	if f.ReportDate != nil {
		out = append(out, "date "+f.ReportDate.Format("2006-01-02"))
	}
	if f.WorkID != nil {
		out = append(out, "work "+*f.WorkID)
	}
	if f.RecordID != nil {
		out = append(out, "record "+*f.RecordID)
	}
	if f.AttachmentID != nil {
		out = append(out, "attachment "+*f.AttachmentID)
	}
	return out
}

type ExtractionResult struct {
	Filters          FilterSet
	Intent           Intent
	Confidence       float64
	Method           ExtractionMethod
	Relevant         bool
	IrrelevantReason string
}

// FailedExtraction builds the zero-confidence result used whenever the model
// call or its response cannot be used. The query text is kept so the caller
// can still plan against it.
func FailedExtraction(query string, method ExtractionMethod) ExtractionResult {
	return ExtractionResult{
		Filters:    FilterSet{Query: query},
		Intent:     IntentMetrics,
		Confidence: 0,
		Method:     method,
		Relevant:   true,
	}
}

func ClampConfidence(c float64) float64 {
	if c != c || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func StringPtr(s string) *string { return &s }

func IntPtr(n int) *int { return &n }
