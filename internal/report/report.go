package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"net/url"
	"text/template"
	"time"

	"github.com/FranksOps/maestro/internal/analyzer"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/storage"
)

// Summary contains aggregated figures about a context's datastream.
type Summary struct {
	Code        string
	Name        string
	Status      lifecycle.Status
	Iterations  int
	Stopped     bool
	Objects     int
	Filtered    int
	Unfiltered  int
	WithPreview int
	// Classified counts objects with a result, per classifier.
	Classified map[string]int
	// Sources counts objects per source host.
	Sources map[string]int
	// Mentions counts each keyword in the text metadata of unfiltered
	// objects, with a few of the sentences it appears in.
	Mentions  []analyzer.TermMatch
	FirstSeen time.Time
	LastSeen  time.Time
	Span      time.Duration
}

// maxSampleSentences bounds the sentences kept per keyword.
const maxSampleSentences = 3

// GenerateSummary aggregates the datastream of sc. keywords are the
// configured context keywords and may be empty.
func GenerateSummary(sc *storage.SearchContext, keywords []string, objects []*storage.DataObject) Summary {
	s := Summary{
		Code:       sc.Code,
		Name:       sc.Name,
		Status:     sc.Status,
		Iterations: sc.Iterations,
		Stopped:    sc.Stopped,
		Classified: make(map[string]int),
		Sources:    make(map[string]int),
	}

	if len(objects) == 0 {
		return s
	}

	s.FirstSeen = objects[0].CreatedAt
	s.LastSeen = objects[0].CreatedAt
	mentions := newMentionSet(keywords)

	for _, obj := range objects {
		s.Objects++
		if obj.Filtered {
			s.Filtered++
		} else {
			s.Unfiltered++
			mentions.add(analyzer.FindTermMatches(analyzer.MetadataText(obj.Metadata), keywords))
		}
		if obj.PreviewPath != "" {
			s.WithPreview++
		}
		for name := range obj.Classification {
			s.Classified[name]++
		}
		if host := sourceHost(obj.SourceURL); host != "" {
			s.Sources[host]++
		}

		if obj.CreatedAt.Before(s.FirstSeen) {
			s.FirstSeen = obj.CreatedAt
		}
		if obj.CreatedAt.After(s.LastSeen) {
			s.LastSeen = obj.CreatedAt
		}
	}

	s.Span = s.LastSeen.Sub(s.FirstSeen)
	s.Mentions = mentions.list()
	return s
}

// mentionSet merges per-object matches in keyword order.
type mentionSet struct {
	order []string
	byKey map[string]*analyzer.TermMatch
}

func newMentionSet(keywords []string) *mentionSet {
	return &mentionSet{order: keywords, byKey: make(map[string]*analyzer.TermMatch)}
}

func (m *mentionSet) add(matches []analyzer.TermMatch) {
	for _, tm := range matches {
		agg, ok := m.byKey[tm.Term]
		if !ok {
			agg = &analyzer.TermMatch{Term: tm.Term}
			m.byKey[tm.Term] = agg
		}
		agg.Count += tm.Count
		for _, sentence := range tm.Sentences {
			if len(agg.Sentences) == maxSampleSentences {
				break
			}
			agg.Sentences = append(agg.Sentences, sentence)
		}
	}
}

func (m *mentionSet) list() []analyzer.TermMatch {
	var out []analyzer.TermMatch
	for _, k := range m.order {
		if tm, ok := m.byKey[k]; ok {
			out = append(out, *tm)
			delete(m.byKey, k)
		}
	}
	return out
}

func sourceHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Maestro Context Summary
-----------------------
Context:       {{.Name}} ({{.Code}})
Status:        {{.Status}}{{if .Stopped}} (stopped){{end}}
Iterations:    {{.Iterations}}
Objects:       {{.Objects}}
Unfiltered:    {{.Unfiltered}}
Filtered:      {{.Filtered}}
{{- if .Objects}}
Collected:     {{.FirstSeen.Format "2006-01-02 15:04:05"}} - {{.LastSeen.Format "2006-01-02 15:04:05"}}
{{- end}}

Classified:
{{- range $name, $count := .Classified}}
  {{$name}}: {{$count}}
{{- else}}
  None
{{- end}}

Sources:
{{- range $host, $count := .Sources}}
  {{$host}}: {{$count}}
{{- else}}
  None
{{- end}}
{{- if .Mentions}}

Keyword mentions:
{{- range .Mentions}}
  {{.Term}}: {{.Count}}
{{- range .Sentences}}
    "{{.}}"
{{- end}}
{{- end}}
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Maestro Context Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>{{.Name}} <small>{{.Code}}</small></h1>
  <p><strong>Status:</strong> {{.Status}}{{if .Stopped}} (stopped){{end}}, iteration {{.Iterations}}</p>

  <div class="stat-card">
    <div>Objects</div>
    <div class="stat-val">{{.Objects}}</div>
  </div>
  <div class="stat-card">
    <div>Unfiltered</div>
    <div class="stat-val" style="color: {{if gt .Unfiltered 0}}green{{else}}red{{end}};">{{.Unfiltered}}</div>
  </div>
  <div class="stat-card">
    <div>Filtered</div>
    <div class="stat-val">{{.Filtered}}</div>
  </div>

  <h3>Classifiers</h3>
  <table>
    <tr><th>Classifier</th><th>Objects</th></tr>
    {{- range $name, $count := .Classified}}
    <tr><td>{{$name}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Sources</h3>
  <table>
    <tr><th>Host</th><th>Objects</th></tr>
    {{- range $host, $count := .Sources}}
    <tr><td>{{$host}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
  {{- if .Mentions}}

  <h3>Keyword mentions</h3>
  <table>
    <tr><th>Keyword</th><th>Mentions</th><th>Examples</th></tr>
    {{- range .Mentions}}
    <tr><td>{{.Term}}</td><td>{{.Count}}</td><td>{{range .Sentences}}<div>{{.}}</div>{{end}}</td></tr>
    {{- end}}
  </table>
  {{- end}}
</body>
</html>
`
	t, err := htmltemplate.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}

	return nil
}
