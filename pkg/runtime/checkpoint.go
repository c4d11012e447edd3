package runtime

import (
	"github.com/digitallysavvy/go-streamrt/pkg/drift"
	"github.com/digitallysavvy/go-streamrt/pkg/guardrail"
)

// checkpointDecision is the outcome of re-validating a checkpoint before
// resuming from it.
type checkpointDecision struct {
	Accepted   bool
	Violations []guardrail.Violation
	Reason     string
}

// validateCheckpoint re-runs the guardrail engine and drift detector
// against a prior checkpoint's content before the orchestrator resumes
// from it. A guardrail result that halts (a fatal violation or a
// non-recoverable error) or drift detected with confidence of at least 0.75
// discards the checkpoint; anything else is accepted with the violations
// carried forward for the record.
func validateCheckpoint(engine *guardrail.Engine, detector *drift.Detector, checkpoint string) checkpointDecision {
	if checkpoint == "" {
		return checkpointDecision{Accepted: true}
	}

	result := engine.Run(guardrail.Context{
		Content:   checkpoint,
		Completed: true,
	})

	if result.ShouldHalt {
		return checkpointDecision{
			Accepted:   false,
			Violations: result.Violations,
			Reason:     "checkpoint failed guardrail re-validation",
		}
	}

	if detector != nil {
		drifted := detector.Check(checkpoint)
		if drifted.Detected && drifted.Confidence >= 0.75 {
			return checkpointDecision{
				Accepted:   false,
				Violations: result.Violations,
				Reason:     "checkpoint failed drift re-validation",
			}
		}
	}

	return checkpointDecision{Accepted: true, Violations: result.Violations}
}
