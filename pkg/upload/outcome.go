package upload

// Outcome is what happened to one element of an upload.
type Outcome string

const (
	Updated       Outcome = "updated"
	SkippedTagged Outcome = "skipped_tagged"
	SkippedGone   Outcome = "skipped_gone"
	SkippedEmpty  Outcome = "skipped_empty"
	RetryLater    Outcome = "retry_later" // transient failure, a later upload may succeed
	Fatal         Outcome = "fatal"       // the edit API broke protocol, nothing more is sent
	NotAttempted  Outcome = "not_attempted"
)

// Skipped reports whether the outcome is an expected no-op.
func (o Outcome) Skipped() bool {
	switch o {
	case SkippedTagged, SkippedGone, SkippedEmpty:
		return true
	}
	return false
}
