package pipeline

import (
	"github.com/FranksOps/maestro/internal/checkpoint"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/pkg/httpclient"
)

// Kind tells the orchestrator whether to chain the next stage.
type Kind int

const (
	// Success is the zero Kind: the first stage of a chain receives the zero
	// Outcome.
	Success Kind = iota
	Failure
	Skipped
)

func (k Kind) String() string {
	switch k {
	case Failure:
		return "failure"
	case Skipped:
		return "skipped"
	}
	return "success"
}

// Outcome is the typed result of one stage run.
type Outcome struct {
	Kind   Kind
	Stage  lifecycle.Stage
	Reason string

	// Fetch is set by a successful fetch, Gather by a successful gather.
	Fetch  *checkpoint.Fetch
	Gather *checkpoint.Gather
	// Delivery classifies a failed webhook call.
	Delivery httpclient.Failure

	// final overrides the finished status written for a successful body.
	final lifecycle.Status
}

// Continue reports whether the next stage should be chained.
func (o Outcome) Continue() bool { return o.Kind == Success }

func succeeded(stage lifecycle.Stage) Outcome {
	return Outcome{Kind: Success, Stage: stage}
}

func failed(stage lifecycle.Stage, reason string) Outcome {
	return Outcome{Kind: Failure, Stage: stage, Reason: reason}
}

func skipped(stage lifecycle.Stage, reason string) Outcome {
	return Outcome{Kind: Skipped, Stage: stage, Reason: reason}
}
