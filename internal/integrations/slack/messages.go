package slackbot

import (
	"fmt"
	"regexp"
	"strings"

	"failurebot/internal/domain"
)

const (
	reactionProcessing = "eyes"
	reactionImporting  = "arrows_counterclockwise"
	reactionSuccess    = "white_check_mark"
	reactionError      = "x"
	reactionBlocked    = "no_entry"
	reactionWarning    = "warning"

	directMessagePrefix = "D"
)

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

const (
	irrelevantQueryMessage = "This request doesn't look related to PMD failure logs or deployments.\n" +
		"*Try one of these examples:*\n" +
		"• What went wrong with case 123456?\n" +
		"• Explain SSH_TO_ALL_HOSTS failures from last week\n" +
		"• How many GRIDFORCE_APP_LOG_COPY failures in May 2025?"

	noIntentMessage = "*Failed to extract intent*: I couldn't determine whether you want metrics or analysis from your query.\n" +
		"*Try phrasing like:*\n" +
		"• 'How many ...' for counts/metrics\n" +
		"• 'Explain ...' or 'What went wrong ...' for analysis"

	usageExamples = "*Try natural language queries like:*\n" +
		"• `What went wrong with case 123456?`\n" +
		"• `Show me SSH failures from yesterday`\n" +
		"• `Why did the GridForce deployment fail on CS58?`"

	genericErrorMessage   = "Sorry, I encountered an error processing your request. Please try again later."
	missingImportParams   = "I need either a case number or step name to import logs. For example: 'Import logs for case 123456' or 'Pull logs from SSH_TO_ALL_HOSTS step'"
	validationErrorFormat = "I couldn't understand your query: %s. Please try rephrasing or provide more specific details."
	processingErrorFormat = "I encountered an error while processing your query: %s"
	busyMessage           = "I'm handling too many requests right now. Please try again in a minute."

	hedgePrefix = "*I'm not completely sure I understood your query correctly.*\n\n"
)

func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

func irrelevantMessage(reason string) string {
	if reason == "" {
		reason = "Question outside PMD/logs scope."
	}
	return irrelevantQueryMessage + "\n*Why*: " + reason
}

func usageErrorMessage(msg string) string {
	return "*Error*: " + msg + "\n\n" + usageExamples
}

// shouldHedge holds only for a model extraction below threshold whose
// answer came back empty or failed.
func shouldHedge(res domain.ExtractionResult, threshold float64, resultCount int, execFailed bool) bool {
	if res.Method != domain.MethodLLMExtraction || res.Confidence >= threshold {
		return false
	}
	return execFailed || resultCount == 0
}

func hedge(body string, filters domain.FilterSet) string {
	applied := filters.Applied()
	params := "no specific filters"
	if len(applied) > 0 {
		params = strings.Join(applied, ", ")
	}
	return hedgePrefix + body + "\n\n_I extracted these parameters: " + params + "_"
}

// importOutcome picks the reply and terminal reaction for a finished import.
func importOutcome(criteria string, s domain.ImportSummary) (string, string) {
	switch {
	case s.FailedLogs > 0:
		return fmt.Sprintf("Import completed for %s with errors: %d logs imported, %d failed",
			criteria, s.SuccessfulLogs, s.FailedLogs), reactionError
	case s.SuccessfulLogs > 0:
		return fmt.Sprintf("✅ Import completed for %s!\n📊 Processed %d/%d attachments (%d skipped)\n📝 Imported %d logs successfully (%d failed)\n💡 You can now query with: 'What issues occurred in %s?'",
			criteria, s.ProcessedAttachments, s.TotalAttachments, s.SkippedAttachments, s.StoredRecords, s.FailedLogs, criteria), reactionSuccess
	case s.SkippedAttachments > 0:
		return fmt.Sprintf("Import completed for %s: %d attachments were already processed (no new logs)",
			criteria, s.SkippedAttachments), reactionSuccess
	default:
		return fmt.Sprintf("No failure logs found for %s. This could mean:\n• Case/step doesn't exist\n• No failure attachments available\n• All logs already imported",
			criteria), reactionWarning
	}
}

func importFailedMessage(criteria string, err error) string {
	return fmt.Sprintf("❌ Import failed for %s: %v\nPlease try again or contact support.", criteria, err)
}

// FormatImportSummary is the plain-text digest posted by scheduled imports.
func FormatImportSummary(criteria string, s domain.ImportSummary, err error) string {
	if err != nil {
		return importFailedMessage(criteria, err)
	}
	text, _ := importOutcome(criteria, s)
	return text
}
