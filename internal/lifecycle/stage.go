package lifecycle

import "fmt"

// Stage names one of the six ordered pipeline steps.
type Stage string

const (
	StageFetch       Stage = "fetch"
	StageGather      Stage = "gather"
	StagePostProcess Stage = "post_process"
	StageFilter      Stage = "filter"
	StageClassify    Stage = "classify"
	StageProvide     Stage = "provide"
)

var stageOrder = []Stage{
	StageFetch,
	StageGather,
	StagePostProcess,
	StageFilter,
	StageClassify,
	StageProvide,
}

type stageStatuses struct {
	running, finished, failed Status
}

var statusesByStage = map[Stage]stageStatuses{
	StageFetch:       {StatusFetching, StatusFinishedFetching, StatusFailedFetching},
	StageGather:      {StatusGathering, StatusFinishedGathering, StatusFailedGathering},
	StagePostProcess: {StatusPostProcessing, StatusFinishedPostProcessing, StatusFailedPostProcessing},
	StageFilter:      {StatusFiltering, StatusFinishedFiltering, StatusFailedFiltering},
	StageClassify:    {StatusClassifying, StatusFinishedClassifying, StatusFailedClassifying},
	StageProvide:     {StatusProviding, StatusFinishedProviding, StatusFailedProviding},
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage validates a stage name coming from a user or a URL.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if _, ok := statusesByStage[s]; !ok {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

// Index is the zero-based position of s in the pipeline, or -1.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[i+1], true
}

// Prev returns the stage that precedes s.
func (s Stage) Prev() (Stage, bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return stageOrder[i-1], true
}

func (s Stage) Running() Status  { return statusesByStage[s].running }
func (s Stage) Finished() Status { return statusesByStage[s].finished }
func (s Stage) Failed() Status   { return statusesByStage[s].failed }

// Owns reports whether a stage executor is allowed to write st.
func (s Stage) Owns(st Status) bool {
	ss, ok := statusesByStage[s]
	if !ok {
		return false
	}
	if s == StageGather && st == StatusWaitingReview {
		return true
	}
	return st == ss.running || st == ss.finished || st == ss.failed
}

// StageOf returns the stage that owns st.
func StageOf(st Status) (Stage, bool) {
	for _, s := range stageOrder {
		if s.Owns(st) {
			return s, true
		}
	}
	return "", false
}
