package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/FranksOps/maestro/internal/checkpoint"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/storage"
)

// runGather downloads the fetched URLs into the datastream. The URL list
// comes from the fetch outcome, or from the fetch checkpoint on resume.
func (p *Pipeline) runGather(ctx context.Context, r *run) (Outcome, error) {
	fetched := r.prev.Fetch
	if fetched == nil {
		cp, err := p.cfg.Checkpoints.LoadFetch(r.scope)
		if err != nil {
			return Outcome{}, fmt.Errorf("no URL list to gather from: %w", err)
		}
		fetched = cp
	}
	if len(fetched.URLs) == 0 {
		return Outcome{}, errors.New("no URLs returned from the fetching stage")
	}

	retriever, err := p.cfg.Retrievers.For(r.cfg.DataType)
	if err != nil {
		return Outcome{}, err
	}
	if err := p.cfg.Blobs.Prepare(r.scope); err != nil {
		return Outcome{}, err
	}

	r.log.Printf("Started gathering %s from %d URLs", r.cfg.DataType, len(fetched.URLs))
	items, err := retriever.Retrieve(ctx, r.scope, fetched.URLs)
	if err != nil {
		if len(items) == 0 {
			return Outcome{}, fmt.Errorf("gather: %w", err)
		}
		r.log.Printf("[ERROR] Gathering stopped early: %v. Keeping %d items", err, len(items))
	}
	r.log.Printf("Retrieved %d items", len(items))

	objs := make([]*storage.DataObject, 0, len(items))
	for _, it := range items {
		objs = append(objs, it.Object(r.sc.ID))
	}
	inserted, err := p.cfg.Store.InsertDataObjects(ctx, objs)
	if err != nil {
		return Outcome{}, err
	}

	all, err := p.cfg.Store.ListDataObjects(ctx, r.sc.ID, storage.DataFilter{})
	if err != nil {
		return Outcome{}, err
	}
	if len(all) == 0 {
		return Outcome{}, errors.New("nothing could be gathered from the URLs")
	}
	r.log.Printf("Stored %d new objects, datastream has %d", inserted, len(all))

	cp := &checkpoint.Gather{Inserted: inserted}
	for _, o := range all {
		cp.ObjectIDs = append(cp.ObjectIDs, o.ID)
	}
	if err := p.cfg.Checkpoints.SaveGather(r.scope, cp); err != nil {
		return Outcome{}, err
	}

	out := succeeded(r.stage)
	out.Gather = cp
	if r.cfg.Advanced != nil && r.cfg.Advanced.YieldAfterGathering {
		if err := p.cfg.Store.SetStopped(context.WithoutCancel(ctx), r.sc.ID, true); err != nil {
			return Outcome{}, fmt.Errorf("pause for review: %w", err)
		}
		r.log.Printf("The user should now review the gathered datastream")
		out.Kind = Skipped
		out.Reason = "waiting for review"
		out.final = lifecycle.StatusWaitingReview
		return out, nil
	}
	r.log.Printf("Continuing. Following stage is post-processing")
	return out, nil
}
