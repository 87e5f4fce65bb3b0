package timeline

import "fmt"

// Stage is a pipeline stage. The numeric order is the pipeline order.
type Stage int

const (
	StageStarting Stage = iota
	StageLoadingDataset
	StageTraining
	StageEvaluating
	StageWritingArtifacts
	StageCompleted

	// StageFailed is a detection result only; it is never one of the
	// timeline's milestones.
	StageFailed
)

// milestoneStages is the fixed set of milestones every timeline carries
var milestoneStages = []Stage{
	StageStarting,
	StageLoadingDataset,
	StageTraining,
	StageEvaluating,
	StageWritingArtifacts,
	StageCompleted,
}

var stageIdentifiers = map[Stage]string{
	StageStarting:         "STARTING",
	StageLoadingDataset:   "LOADING_DATASET",
	StageTraining:         "TRAINING",
	StageEvaluating:       "EVALUATING",
	StageWritingArtifacts: "WRITING_ARTIFACTS",
	StageCompleted:        "COMPLETED",
	StageFailed:           "FAILED",
}

var stageDisplayNames = map[Stage]string{
	StageStarting:         "Starting",
	StageLoadingDataset:   "Loading dataset",
	StageTraining:         "Training",
	StageEvaluating:       "Evaluating",
	StageWritingArtifacts: "Writing artifacts",
	StageCompleted:        "Completed",
	StageFailed:           "Failed",
}

// ParseStage maps an upper snake case identifier such as "LOADING_DATASET"
// to its stage.
func ParseStage(name string) (Stage, bool) {
	for stage, id := range stageIdentifiers {
		if id == name {
			return stage, true
		}
	}
	return 0, false
}

// Identifier returns the upper snake case name used in explicit tokens
func (s Stage) Identifier() string {
	if id, ok := stageIdentifiers[s]; ok {
		return id
	}
	return fmt.Sprintf("STAGE(%d)", int(s))
}

// DisplayName returns a human readable name
func (s Stage) DisplayName() string {
	if name, ok := stageDisplayNames[s]; ok {
		return name
	}
	return s.Identifier()
}

func (s Stage) String() string {
	return s.Identifier()
}

// IsTerminal reports whether the stage ends a run
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// MarshalText encodes the stage as its identifier
func (s Stage) MarshalText() ([]byte, error) {
	if _, ok := stageIdentifiers[s]; !ok {
		return nil, fmt.Errorf("unknown stage: %d", int(s))
	}
	return []byte(s.Identifier()), nil
}

// UnmarshalText decodes a stage identifier
func (s *Stage) UnmarshalText(text []byte) error {
	stage, ok := ParseStage(string(text))
	if !ok {
		return fmt.Errorf("unknown stage: %q", string(text))
	}
	*s = stage
	return nil
}
