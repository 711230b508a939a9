package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/storage"
)

// runPostProcess enriches every object with each selected post-processor.
func (p *Pipeline) runPostProcess(ctx context.Context, r *run) (Outcome, error) {
	objects, err := p.cfg.Store.ListDataObjects(ctx, r.sc.ID, storage.DataFilter{})
	if err != nil {
		return Outcome{}, err
	}
	if len(objects) == 0 {
		return Outcome{}, errors.New("the datastream is empty")
	}

	processors, err := p.cfg.Registry.PostProcessorsFor(ctx, r.cfg)
	if err != nil {
		return Outcome{}, err
	}
	if len(processors) == 0 {
		r.log.Printf("No post-processor selected. Continuing to filtering")
		return succeeded(r.stage), nil
	}
	r.log.Printf("Will use the post-processors: %s", names(processors))

	tracker := p.tracker()
	processed := 0
	for _, rec := range processors {
		r.log.Printf("Using post-processor '%s'", rec.Name)
		impl, err := p.cfg.Runner.PostProcessor(rec)
		if err != nil {
			r.log.Printf("[ERROR] %v. Skipping it", err)
			continue
		}
		for _, obj := range objects {
			if tracker.Abandoned(rec.ID) {
				r.log.Printf("[ERROR] Post-processor '%s' failed too many times. Aborting its execution", rec.Name)
				break
			}
			changed, err := p.postProcessObject(ctx, r, rec, impl, obj)
			if err != nil {
				tracker.Fail(rec.ID)
				r.log.Printf("[ERROR] Post-processor failed on %s: %v. Continuing...", obj.ID, err)
				continue
			}
			tracker.Succeed(rec.ID)
			if changed {
				processed++
			}
		}
	}

	r.log.Printf("Post-processed %d results over %d objects", processed, len(objects))
	r.log.Printf("Following stage is filtering")
	return succeeded(r.stage), nil
}

func (p *Pipeline) postProcessObject(ctx context.Context, r *run, rec *storage.Plugin, impl plugin.PostProcessor, obj *storage.DataObject) (bool, error) {
	file, err := p.contentFile(r, obj.ContentPath)
	if err != nil {
		return false, err
	}
	res, err := impl.PostProcess(ctx, file)
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}

	switch rec.Manipulation {
	case storage.DataManipulation:
		var path string
		if err := json.Unmarshal(res, &path); err != nil || path == "" {
			return false, fmt.Errorf("data manipulation result must be a content path: %s", res)
		}
		rel, err := p.scopedContent(r, path)
		if err != nil {
			return false, err
		}
		obj.ContentPath = rel
	default:
		if err := mergeMetadata(obj, rec.Name, res); err != nil {
			return false, err
		}
	}
	if err := p.cfg.Store.UpdateDataObject(ctx, obj); err != nil {
		return false, err
	}
	return true, nil
}

// mergeMetadata merges an object result into the metadata map. Other values
// are stored under the plugin name.
func mergeMetadata(obj *storage.DataObject, pluginName string, res json.RawMessage) error {
	var v any
	if err := json.Unmarshal(res, &v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if obj.Metadata == nil {
		obj.Metadata = map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			obj.Metadata[k] = val
		}
		return nil
	}
	obj.Metadata[pluginName] = v
	return nil
}

type loadedFilter struct {
	rec  *storage.Plugin
	impl plugin.Filter
}

// runFilter recomputes the filtered flag of every object from scratch.
func (p *Pipeline) runFilter(ctx context.Context, r *run) (Outcome, error) {
	recs, err := p.cfg.Registry.FiltersFor(ctx, r.cfg)
	if err != nil {
		return Outcome{}, err
	}
	objects, err := p.cfg.Store.ListDataObjects(ctx, r.sc.ID, storage.DataFilter{})
	if err != nil {
		return Outcome{}, err
	}

	var filters []loadedFilter
	for _, rec := range recs {
		impl, err := p.cfg.Runner.Filter(rec)
		if err != nil {
			r.log.Printf("[ERROR] %v. Skipping it", err)
			continue
		}
		filters = append(filters, loadedFilter{rec: rec, impl: impl})
	}
	if len(filters) == 0 {
		r.log.Printf("No filters used")
	} else {
		r.log.Printf("Will use the filters: %s", names(recs))
	}

	strict := r.cfg.Advanced != nil && r.cfg.Advanced.StrictFiltering
	data := plugin.FilterableDataFor(r.cfg)
	tracker := p.tracker()
	excluded := 0
	for _, obj := range objects {
		filtered, err := p.filterObject(ctx, r, obj, filters, data, strict, tracker)
		if err != nil {
			return Outcome{}, err
		}
		if filtered {
			excluded++
		}
		if obj.Filtered != filtered {
			obj.Filtered = filtered
			if err := p.cfg.Store.UpdateDataObject(ctx, obj); err != nil {
				return Outcome{}, err
			}
		}
	}

	r.log.Printf("Filtered %d out of %d objects", excluded, len(objects))
	r.log.Printf("Following stage is classification")
	return succeeded(r.stage), nil
}

// filterObject reports whether any filter excludes obj. A failing filter has
// no say on the object.
func (p *Pipeline) filterObject(ctx context.Context, r *run, obj *storage.DataObject, filters []loadedFilter, data plugin.FilterableData, strict bool, tracker *plugin.Tracker) (bool, error) {
	file, err := p.contentFile(r, obj.ContentPath)
	if err != nil {
		return false, err
	}
	for _, f := range filters {
		if tracker.Abandoned(f.rec.ID) {
			continue
		}
		v, err := f.impl.Filter(ctx, file, obj.Metadata, data)
		if err != nil {
			if n := tracker.Fail(f.rec.ID); tracker.Abandoned(f.rec.ID) {
				r.log.Printf("[ERROR] Filter '%s' failed %d times in a row. Aborting its execution", f.rec.Name, n)
			} else {
				r.log.Printf("[ERROR] Filter '%s' failed on %s: %v. Continuing...", f.rec.Name, obj.ID, err)
			}
			continue
		}
		tracker.Succeed(f.rec.ID)
		if v.Excludes(strict) {
			return true, nil
		}
	}
	return false, nil
}

// runClassify classifies the objects left after filtering. Pairs that
// already have a result are not classified again.
func (p *Pipeline) runClassify(ctx context.Context, r *run) (Outcome, error) {
	objects, err := p.cfg.Store.ListDataObjects(ctx, r.sc.ID, storage.DataFilter{UnfilteredOnly: true})
	if err != nil {
		return Outcome{}, err
	}
	if len(objects) == 0 {
		return Outcome{}, errors.New("no objects reached classification, they were probably all filtered out")
	}

	classifiers, err := p.cfg.Registry.ClassifiersFor(ctx, r.cfg)
	if err != nil {
		return Outcome{}, err
	}
	if len(classifiers) == 0 {
		r.log.Printf("No classifiers used. Continuing to provide stage")
		return succeeded(r.stage), nil
	}
	r.log.Printf("Will use the classifiers: %s", names(classifiers))

	tracker := p.tracker()
	classified := 0
	for _, rec := range classifiers {
		r.log.Printf("Using classifier '%s'", rec.Name)
		impl, err := p.cfg.Runner.Classifier(rec)
		if err != nil {
			r.log.Printf("[ERROR] %v. Skipping it", err)
			continue
		}
		for i, obj := range objects {
			if _, done := obj.Classification[rec.Name]; done {
				continue
			}
			if tracker.Abandoned(rec.ID) {
				r.log.Printf("[ERROR] Classifier '%s' failed too many times. Aborting its execution", rec.Name)
				break
			}
			r.log.Printf("Classifying %s (%d/%d)", obj.ID, i+1, len(objects))
			if err := p.classifyObject(ctx, r, rec, impl, obj); err != nil {
				tracker.Fail(rec.ID)
				r.log.Printf("[ERROR] Classifier failed on %s: %v. Continuing...", obj.ID, err)
				continue
			}
			tracker.Succeed(rec.ID)
			classified++
		}
	}

	r.log.Printf("Classified %d results over %d objects", classified, len(objects))
	r.log.Printf("Following stage is providing")
	return succeeded(r.stage), nil
}

func (p *Pipeline) classifyObject(ctx context.Context, r *run, rec *storage.Plugin, impl plugin.Classifier, obj *storage.DataObject) error {
	file, err := p.contentFile(r, obj.ContentPath)
	if err != nil {
		return err
	}
	res, err := impl.Classify(ctx, file)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	if !json.Valid(res) {
		return fmt.Errorf("result is not valid JSON")
	}
	return p.cfg.Store.SetClassification(ctx, obj.ID, rec.Name, res)
}
