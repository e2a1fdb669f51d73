package pipeline

// State is the position of one chat run in the pipeline.
type State int

const (
	StateReceived State = iota
	StateGenerating
	StateSynthesizing
	StateConverting
	StateExtracting
	StateAssembled
	StateResponded
	// StateAborted is terminal and follows the first failure.
	StateAborted
)

// String returns the lower-case state name used in logs.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateConverting:
		return "converting"
	case StateExtracting:
		return "extracting"
	case StateAssembled:
		return "assembled"
	case StateResponded:
		return "responded"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateResponded || s == StateAborted
}

// Stage names one step of the pipeline. It labels errors, metrics and spans.
type Stage string

const (
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
	StageConvert    Stage = "convert"
	StageExtract    Stage = "extract"
)

// state returns the state a run is in while s executes.
func (s Stage) state() State {
	switch s {
	case StageGenerate:
		return StateGenerating
	case StageSynthesize:
		return StateSynthesizing
	case StageConvert:
		return StateConverting
	case StageExtract:
		return StateExtracting
	default:
		return StateAborted
	}
}
