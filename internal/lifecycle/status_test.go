package lifecycle

import (
	"errors"
	"testing"
)

func TestCanTransition_ForwardEdges(t *testing.T) {
	edges := [][2]Status{
		{StatusNotConfigured, StatusReady},
		{StatusReady, StatusFetching},
		{StatusFetching, StatusFinishedFetching},
		{StatusFetching, StatusFailedFetching},
		{StatusFinishedFetching, StatusGathering},
		{StatusGathering, StatusFinishedGathering},
		{StatusGathering, StatusFailedGathering},
		{StatusGathering, StatusWaitingReview},
		{StatusWaitingReview, StatusPostProcessing},
		{StatusFinishedGathering, StatusPostProcessing},
		{StatusPostProcessing, StatusFinishedPostProcessing},
		{StatusPostProcessing, StatusFailedPostProcessing},
		{StatusFinishedPostProcessing, StatusFiltering},
		{StatusFiltering, StatusFinishedFiltering},
		{StatusFiltering, StatusFailedFiltering},
		{StatusFinishedFiltering, StatusClassifying},
		{StatusClassifying, StatusFinishedClassifying},
		{StatusClassifying, StatusFailedClassifying},
		{StatusFinishedClassifying, StatusProviding},
		{StatusProviding, StatusFinishedProviding},
		{StatusProviding, StatusFailedProviding},
		{StatusFinishedProviding, StatusWaitingIteration},
		{StatusWaitingIteration, StatusFetching},
	}
	for _, e := range edges {
		if !CanTransition(e[0], e[1]) {
			t.Errorf("expected %s -> %s to be allowed", e[0], e[1])
		}
	}
}

func TestCanTransition_Rejected(t *testing.T) {
	edges := [][2]Status{
		{StatusNotConfigured, StatusFetching},
		{StatusReady, StatusGathering},
		{StatusFetching, StatusGathering},
		{StatusFinishedFetching, StatusFiltering},
		{StatusFailedFetching, StatusGathering},
		{StatusFinishedGathering, StatusFinishedPostProcessing},
		{StatusWaitingReview, StatusFiltering},
		{StatusFiltering, StatusReady},
		{StatusFinishedFiltering, StatusWaitingReview},
		{StatusReady, StatusWaitingIteration},
		{StatusFetching, StatusFailedGathering},
	}
	for _, e := range edges {
		if CanTransition(e[0], e[1]) {
			t.Errorf("expected %s -> %s to be rejected", e[0], e[1])
		}
	}
}

func TestCanTransition_Resume(t *testing.T) {
	// Re-running an earlier stage from a later settled status.
	if !CanTransition(StatusFailedProviding, StatusGathering) {
		t.Error("expected resume from provide failure back to gather")
	}
	if !CanTransition(StatusFailedGathering, StatusGathering) {
		t.Error("expected a failed stage to be re-entered")
	}
	if !CanTransition(StatusFinishedProviding, StatusFetching) {
		t.Error("expected restart from a finished pipeline")
	}
	// A later stage cannot be entered while an earlier one has not finished.
	if CanTransition(StatusFailedPostProcessing, StatusFiltering) {
		t.Error("filter must not start after post-processing failed")
	}
}

func TestTransition(t *testing.T) {
	if err := Transition(StatusReady, StatusFetching); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := Transition(StatusReady, StatusProviding)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStageOwnership(t *testing.T) {
	for _, s := range Stages() {
		for _, other := range Stages() {
			if s == other {
				continue
			}
			if s.Owns(other.Running()) || s.Owns(other.Finished()) || s.Owns(other.Failed()) {
				t.Errorf("stage %s claims a status of %s", s, other)
			}
		}
	}
	if !StageGather.Owns(StatusWaitingReview) {
		t.Error("gather must own WAITING_REVIEW")
	}
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("post_process")
	if err != nil || s != StagePostProcess {
		t.Fatalf("expected post_process, got %q (%v)", s, err)
	}
	if _, err := ParseStage("deliver"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
	if next, ok := StageClassify.Next(); !ok || next != StageProvide {
		t.Errorf("expected provide after classify, got %q", next)
	}
	if _, ok := StageProvide.Next(); ok {
		t.Error("provide must be the last stage")
	}
}
