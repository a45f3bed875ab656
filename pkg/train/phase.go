package train

// Phase is the training state. Transitions only move forward:
// FeatureExtraction -> FineTuning -> Done.
type Phase int

const (
	FeatureExtraction Phase = iota
	FineTuning
	Done
)

func (p Phase) String() string {
	switch p {
	case FeatureExtraction:
		return "feature_extraction"
	case FineTuning:
		return "fine_tuning"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
