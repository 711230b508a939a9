package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/FranksOps/maestro/internal/metrics"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/pkg/httpclient"
)

// ObjectRef identifies a delivered object.
type ObjectRef struct {
	ID          string `json:"id"`
	PreviewPath string `json:"preview_path,omitempty"`
	PublicPath  string `json:"public_path,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
}

// Payload is the body posted to a context's webhook.
type Payload struct {
	Context   string `json:"context"`
	Iteration int    `json:"iteration"`
	// Results maps a classifier name to object IDs and their results.
	Results map[string]map[string]json.RawMessage `json:"results"`
	Objects []ObjectRef                           `json:"objects"`
}

// BuildPayload assembles the delivery of the unfiltered objects.
func BuildPayload(sc *storage.SearchContext, classifiers []*storage.Plugin, objects []*storage.DataObject) Payload {
	p := Payload{
		Context:   sc.Code,
		Iteration: sc.Iterations,
		Results:   make(map[string]map[string]json.RawMessage, len(classifiers)),
		Objects:   make([]ObjectRef, 0, len(objects)),
	}
	for _, c := range classifiers {
		byObject := make(map[string]json.RawMessage, len(objects))
		for _, o := range objects {
			res, ok := o.Classification[c.Name]
			if !ok {
				res = json.RawMessage("null")
			}
			byObject[o.ID] = res
		}
		p.Results[c.Name] = byObject
	}
	for _, o := range objects {
		p.Objects = append(p.Objects, ObjectRef{
			ID:          o.ID,
			PreviewPath: o.PreviewPath,
			PublicPath:  o.PublicPath,
			SourceURL:   o.SourceURL,
		})
	}
	return p
}

var deliveryMessages = map[httpclient.Failure]string{
	httpclient.FailureConnection: "a network problem occurred while delivering",
	httpclient.FailureStatus:     "the webhook answered with a non-2xx status",
	httpclient.FailureTimeout:    "the request to the webhook timed out",
	httpclient.FailureRedirects:  "the request exceeded the maximum number of redirects",
}

// runProvide posts the results to the webhook. Delivery is optional and a
// datastream below the minimum size is not delivered; neither is a failure.
// Failed deliveries are not retried.
func (p *Pipeline) runProvide(ctx context.Context, r *run) (Outcome, error) {
	a := r.cfg.Advanced
	if a == nil || a.Webhook == "" {
		r.log.Printf("No webhook configured. Provide one and rerun, or download the results directly")
		metrics.WebhookDeliveriesTotal.WithLabelValues("disabled").Inc()
		return succeeded(r.stage), nil
	}

	objects, err := p.cfg.Store.ListDataObjects(ctx, r.sc.ID, storage.DataFilter{UnfilteredOnly: true})
	if err != nil {
		return Outcome{}, err
	}
	if a.MinimumObjects > 0 && len(objects) < a.MinimumObjects {
		r.log.Printf("Only %d objects left, %d required. Not delivering", len(objects), a.MinimumObjects)
		metrics.WebhookDeliveriesTotal.WithLabelValues("below_minimum").Inc()
		return succeeded(r.stage), nil
	}

	classifiers, err := p.cfg.Registry.ClassifiersFor(ctx, r.cfg)
	if err != nil {
		return Outcome{}, err
	}
	body, err := json.Marshal(BuildPayload(r.sc, classifiers, objects))
	if err != nil {
		return Outcome{}, fmt.Errorf("encode payload: %w", err)
	}

	r.log.Printf("Will send %d objects to %s", len(objects), a.Webhook)
	if err := p.deliver(ctx, a.Webhook, body); err != nil {
		class := httpclient.Classify(err)
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(class)).Inc()
		out := Outcome{Delivery: class}
		return out, fmt.Errorf("%s: %w", deliveryMessages[class], err)
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	r.log.Printf("The webhook accepted the delivery")
	r.log.Printf("Finished all the steps")
	return succeeded(r.stage), nil
}

func (p *Pipeline) deliver(ctx context.Context, webhook string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProvideTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.Webhook.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return httpclient.CheckStatus(resp)
}
