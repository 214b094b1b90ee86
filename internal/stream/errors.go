package stream

import "fmt"

// Stage identifies the pipeline stage at which a flush cycle failed.
type Stage string

const (
	// StageTranscribe is the speech-to-text stage.
	StageTranscribe Stage = "transcribe"

	// StageExtract is the reference-extraction stage.
	StageExtract Stage = "extract"

	// StageLookup is the verse store lookup stage.
	StageLookup Stage = "lookup"
)

// CycleError reports a flush cycle that aborted at a specific stage. A failed
// cycle never tears down the session; the audio already drained for that cycle
// is discarded and the next tick starts fresh.
type CycleError struct {
	// Stage is the pipeline stage that failed.
	Stage Stage

	// Err is the underlying provider or store error.
	Err error
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("stream: %s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *CycleError) Unwrap() error {
	return e.Err
}
