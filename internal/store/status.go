package store

import "fmt"

// Stage values for a version record. Transitions are one-directional:
// a record never moves back to an earlier stage.
const (
	StageDiscovered = "discovered"
	StageDownloaded = "downloaded"
	StageExtracted  = "extracted"
	StageHarvested  = "harvested"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StageDiscovered: true,
	},
	StageDiscovered: {
		StageDiscovered: true,
		StageDownloaded: true,
	},
	StageDownloaded: {
		StageDownloaded: true,
		StageExtracted:  true,
	},
	StageExtracted: {
		StageExtracted: true,
		StageHarvested: true,
	},
	StageHarvested: {
		StageHarvested: true,
	},
}

func IsKnownStage(stage string) bool {
	_, ok := allowedTransitions[stage]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionStage(rec *Record, toStage string) error {
	from := rec.Stage
	if !CanTransition(from, toStage) {
		return fmt.Errorf("invalid stage transition: %q -> %q (version=%s channel=%s)", from, toStage, rec.Version, rec.Channel)
	}
	rec.Stage = toStage
	return nil
}
