package llm

import (
	"context"
	"errors"
	"log"
	"time"

	"failurebot/internal/domain"
	"failurebot/internal/metrics"
)

const defaultExtractionConfidence = 0.8

// StepNormalizer canonicalizes step names returned by the model.
type StepNormalizer interface {
	Normalize(ctx context.Context, raw string) string
}

type Extractor struct {
	client   Client
	steps    StepNormalizer
	glossary *StepGlossary
	loc      *time.Location
	now      func() time.Time
}

func NewExtractor(client Client, steps StepNormalizer, glossary *StepGlossary, loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.Local
	}
	return &Extractor{client: client, steps: steps, glossary: glossary, loc: loc, now: time.Now}
}

// Extract never fails. Model or parse errors come back as a zero-confidence
// result tagged with the failure method.
func (e *Extractor) Extract(ctx context.Context, query, conversationContext string) domain.ExtractionResult {
	prompt := buildExtractionPrompt(query, conversationContext, e.now().In(e.loc))
	text, usage, err := e.client.Complete(ctx, extractionSystemPrompt, prompt)
	metrics.RecordLLMCall("extract", usage.InputTokens, usage.OutputTokens, err)
	if err != nil {
		log.Printf("llm extract %v", &domain.ExtractionError{Method: domain.MethodLLMError, Err: err})
		return domain.FailedExtraction(query, domain.MethodLLMError)
	}

	result, err := e.parse(ctx, query, text)
	if err != nil {
		log.Printf("llm extract %v", &domain.ExtractionError{Method: domain.MethodLLMParseError, Err: err})
		return domain.FailedExtraction(query, domain.MethodLLMParseError)
	}
	log.Printf("llm extract intent=%s confidence=%.2f relevant=%t filters=%v", result.Intent, result.Confidence, result.Relevant, result.Filters.Applied())
	return result
}

func (e *Extractor) parse(ctx context.Context, query, text string) (domain.ExtractionResult, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	if len(obj) == 0 {
		return domain.ExtractionResult{}, errors.New("no JSON object in model response")
	}

	var f domain.FilterSet
	optional := func(key string) *string {
		if s := rawString(obj[key]); s != "" {
			return domain.StringPtr(s)
		}
		return nil
	}
	f.RecordID = optional("record_id")
	f.WorkID = optional("work_id")
	f.AttachmentID = optional("attachment_id")
	f.Datacenter = optional("datacenter")
	if n, ok := rawInt(obj["case_number"]); ok && n > 0 {
		f.CaseNumber = domain.IntPtr(n)
	}

	rawStep := rawString(obj["step_name"])
	if rawStep == "" {
		if hinted, ok := e.glossary.Match(query); ok {
			rawStep = hinted
		}
	}
	if rawStep != "" && e.steps != nil {
		rawStep = e.steps.Normalize(ctx, rawStep)
	}
	if rawStep != "" {
		f.StepName = domain.StringPtr(rawStep)
	}

	if d := rawString(obj["report_date"]); d != "" {
		if len(d) > 10 {
			d = d[:10]
		}
		if t, err := time.ParseInLocation("2006-01-02", d, e.loc); err == nil {
			f.ReportDate = &t
		} else {
			log.Printf("llm extract ignoring report_date=%q: %v", d, err)
		}
	}

	f.Query = rawString(obj["query"])
	if f.Query == "" {
		f.Query = query
	}

	confidence := defaultExtractionConfidence
	if c, ok := rawFloat(obj["confidence"]); ok {
		confidence = c
	}

	relevant := true
	if b, ok := rawBool(obj["is_relevant"]); ok {
		relevant = b
	}
	reason := ""
	if !relevant {
		reason = rawString(obj["irrelevant_reason"])
	}

	return domain.ExtractionResult{
		Filters:          f,
		Intent:           domain.ParseIntent(rawString(obj["intent"])),
		Confidence:       domain.ClampConfidence(confidence),
		Method:           domain.MethodLLMExtraction,
		Relevant:         relevant,
		IrrelevantReason: reason,
	}, nil
}
