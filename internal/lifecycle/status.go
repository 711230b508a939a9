package lifecycle

import (
	"errors"
	"fmt"
)

// Status is the persisted lifecycle value of a search context.
type Status string

const (
	StatusNotConfigured Status = "NOT_CONFIGURED"
	StatusReady         Status = "READY"

	StatusFetching         Status = "FETCHING"
	StatusFinishedFetching Status = "FINISHED_FETCHING"
	StatusFailedFetching   Status = "FAILED_FETCHING"

	StatusGathering         Status = "GATHERING"
	StatusFinishedGathering Status = "FINISHED_GATHERING"
	StatusFailedGathering   Status = "FAILED_GATHERING"
	StatusWaitingReview     Status = "WAITING_REVIEW"

	StatusPostProcessing         Status = "POST_PROCESSING"
	StatusFinishedPostProcessing Status = "FINISHED_POST_PROCESSING"
	StatusFailedPostProcessing   Status = "FAILED_POST_PROCESSING"

	StatusFiltering         Status = "FILTERING"
	StatusFinishedFiltering Status = "FINISHED_FILTERING"
	StatusFailedFiltering   Status = "FAILED_FILTERING"

	StatusClassifying         Status = "CLASSIFYING"
	StatusFinishedClassifying Status = "FINISHED_CLASSIFYING"
	StatusFailedClassifying   Status = "FAILED_CLASSIFYING"

	StatusProviding         Status = "PROVIDING"
	StatusFinishedProviding Status = "FINISHED_PROVIDING"
	StatusFailedProviding   Status = "FAILED_PROVIDING"

	// StatusWaitingIteration marks a finished context whose configuration asks
	// for the pipeline to be run again after a delay.
	StatusWaitingIteration Status = "WAITING_ITERATION"
)

// ErrInvalidTransition is returned when a status change is not an edge of the
// lifecycle graph.
var ErrInvalidTransition = errors.New("lifecycle: invalid status transition")

// IsRunning reports whether st is the in-progress status of some stage.
func IsRunning(st Status) bool {
	for _, s := range stageOrder {
		if s.Running() == st {
			return true
		}
	}
	return false
}

// IsSettled reports whether st is a resting status: a stage finished, failed,
// or the pipeline is paused waiting for a user or a timer.
func IsSettled(st Status) bool {
	switch st {
	case StatusWaitingReview, StatusWaitingIteration:
		return true
	}
	for _, s := range stageOrder {
		if s.Finished() == st || s.Failed() == st {
			return true
		}
	}
	return false
}

// IsKnown reports whether st is one of the defined statuses.
func IsKnown(st Status) bool {
	switch st {
	case StatusNotConfigured, StatusReady:
		return true
	}
	if _, ok := StageOf(st); ok {
		return true
	}
	return st == StatusWaitingIteration
}

// CanTransition reports whether a context may move from one status to another.
//
// Besides the forward edges of each stage, a stage's running status may be
// re-entered from any status owned by the same or a later stage, which is how
// a resume re-runs part of the pipeline. A stuck running status (worker died
// mid-stage) is covered by the same rule.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusReady:
		return from == StatusNotConfigured || from == StatusReady || IsSettled(from)
	case StatusWaitingReview:
		return from == StatusGathering
	case StatusWaitingIteration:
		return from == StatusFinishedProviding
	}

	target, ok := StageOf(to)
	if !ok {
		return false
	}

	if to == target.Finished() || to == target.Failed() {
		return from == target.Running()
	}

	// to is target.Running()
	if target == StageFetch && (from == StatusReady || from == StatusWaitingIteration) {
		return true
	}
	if target == StagePostProcess && from == StatusWaitingReview {
		return true
	}
	if prev, ok := target.Prev(); ok && from == prev.Finished() {
		return true
	}
	if owner, ok := StageOf(from); ok && owner.Index() >= target.Index() {
		return true
	}
	return false
}

// Transition returns ErrInvalidTransition wrapped with both statuses when the move
// is not allowed.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}
