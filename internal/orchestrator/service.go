package orchestrator

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/gather"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/report"
	"github.com/FranksOps/maestro/internal/stagelog"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/internal/storage/csvbackend"
	"github.com/FranksOps/maestro/internal/storage/jsonbackend"
)

var (
	// ErrInvalidConfiguration wraps validation failures of a configuration.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrNotExportable is returned when results are requested before the
	// pipeline produced any.
	ErrNotExportable = errors.New("results are not available yet")
	// ErrUnknownFormat is returned for an unsupported export format.
	ErrUnknownFormat = errors.New("unknown export format")
)

// maxCodeAttempts bounds the suffixes tried for a derived context code.
const maxCodeAttempts = 100

// ArchiveImporter seeds a datastream from an uploaded archive.
type ArchiveImporter interface {
	ImportArchive(ctx context.Context, scope blobstore.Scope, zr *zip.Reader) ([]gather.Item, error)
}

// Service implements the context management operations.
type Service struct {
	store    storage.Backend
	blobs    *blobstore.Store
	registry *plugin.Registry
	orch     *Orchestrator
	importer ArchiveImporter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService returns a Service. importer may be nil, which disables
// archive imports.
func NewService(store storage.Backend, blobs *blobstore.Store, registry *plugin.Registry, orch *Orchestrator, importer ArchiveImporter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		blobs:    blobs,
		registry: registry,
		orch:     orch,
		importer: importer,
		validate: newValidator(),
		logger:   logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or a nil function.
	_ = v.RegisterValidation("latlong", validLocation)
	return v
}

// validLocation accepts a "lat,long" pair within the coordinate ranges.
func validLocation(fl validator.FieldLevel) bool {
	lat, long, err := storage.ParseLocation(fl.Field().String())
	if err != nil {
		return false
	}
	return lat >= -90 && lat <= 90 && long >= -180 && long <= 180
}

// Orchestrator returns the orchestrator behind the service.
func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// Slugify lowercases name and joins its letters and digits with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// NewContext is the input of CreateContext. An empty Code is derived from
// Name and suffixed until it is free for the owner.
type NewContext struct {
	Code        string
	Name        string `validate:"required,max=100"`
	Description string
	Owner       storage.Owner
	CreatorID   string
}

// CreateContext stores a NOT_CONFIGURED context and prepares its folders.
func (s *Service) CreateContext(ctx context.Context, in NewContext) (*storage.SearchContext, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if in.Owner.ID == "" || (in.Owner.Kind != storage.OwnerUser && in.Owner.Kind != storage.OwnerOrganization) {
		return nil, fmt.Errorf("%w: owner %q", ErrInvalidConfiguration, in.Owner)
	}

	explicit := in.Code != ""
	base := Slugify(in.Code)
	if !explicit {
		base = Slugify(in.Name)
	}
	if base == "" {
		return nil, fmt.Errorf("%w: code %q has no letters or digits", ErrInvalidConfiguration, in.Code+in.Name)
	}

	sc := &storage.SearchContext{
		Name:        in.Name,
		Description: in.Description,
		Owner:       in.Owner,
		CreatorID:   in.CreatorID,
		Status:      lifecycle.StatusNotConfigured,
	}
	for i := 1; ; i++ {
		sc.ID = ""
		sc.Code = base
		if i > 1 {
			sc.Code = base + "-" + strconv.Itoa(i)
		}
		err := s.store.CreateContext(ctx, sc)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicate) || explicit || i >= maxCodeAttempts {
			return nil, fmt.Errorf("create context: %w", err)
		}
	}

	if err := s.blobs.Prepare(blobstore.ScopeOf(sc)); err != nil {
		return nil, fmt.Errorf("create context folders: %w", err)
	}
	s.logger.Info("context created", "context_id", sc.ID, "owner", sc.Owner.String(), "code", sc.Code)
	return sc, nil
}

// Configure validates cfg, stores it and moves the context to READY.
func (s *Service) Configure(ctx context.Context, contextID string, cfg *storage.Configuration) error {
	sc, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if s.orch.Active(contextID) || lifecycle.IsRunning(sc.Status) {
		return fmt.Errorf("configure %s: %w", contextID, ErrBusy)
	}
	if err := lifecycle.Transition(sc.Status, lifecycle.StatusReady); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	cfg.ContextID = contextID
	if err := s.Validate(ctx, cfg); err != nil {
		return err
	}
	if err := s.store.SaveConfiguration(ctx, cfg); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	s.orch.CancelRepeat(contextID)
	if sc.Status != lifecycle.StatusReady {
		if err := s.store.TransitionStatus(ctx, contextID, sc.Status, lifecycle.StatusReady); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	s.logger.Info("context configured", "context_id", contextID, "data_type", string(cfg.DataType))
	return nil
}

// Validate checks field rules, the date range and the fetcher selection.
func (s *Service) Validate(ctx context.Context, cfg *storage.Configuration) error {
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	a := cfg.Advanced
	if a == nil {
		return nil
	}
	if a.StartDate != nil && a.EndDate != nil && a.EndDate.Before(*a.StartDate) {
		return fmt.Errorf("%w: end date is before start date", ErrInvalidConfiguration)
	}
	if a.RepeatAmount > 0 && a.RepeatUnit == "" {
		return fmt.Errorf("%w: repeat amount without a unit", ErrInvalidConfiguration)
	}
	if len(a.FetcherIDs) > 0 {
		if err := s.registry.ValidateFetcherSelection(ctx, a.FetcherIDs); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
	}
	selections := []struct {
		kind storage.PluginKind
		ids  []string
	}{
		{storage.KindPostProcessor, a.PostProcessorIDs},
		{storage.KindFilter, a.FilterIDs},
		{storage.KindClassifier, a.ClassifierIDs},
	}
	for _, sel := range selections {
		records, err := s.registry.Resolve(ctx, sel.ids)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		for _, p := range records {
			if p.Kind != sel.kind {
				return fmt.Errorf("%w: plugin %s is a %s, not a %s: %w", ErrInvalidConfiguration, p.Name, p.Kind, sel.kind, plugin.ErrWrongKind)
			}
		}
	}
	return nil
}

// DeleteContext stops the context and removes its records and folders.
func (s *Service) DeleteContext(ctx context.Context, contextID string) error {
	sc, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	if s.orch.Active(contextID) {
		return fmt.Errorf("delete context %s: %w", contextID, ErrBusy)
	}
	s.orch.CancelRepeat(contextID)
	if err := s.store.DeleteContext(ctx, contextID); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	if err := s.blobs.RemoveContext(blobstore.ScopeOf(sc)); err != nil {
		return fmt.Errorf("delete context folders: %w", err)
	}
	s.logger.Info("context deleted", "context_id", contextID, "code", sc.Code)
	return nil
}

// StatusReport is the state shown to a user polling a context.
type StatusReport struct {
	Context    *storage.SearchContext `json:"context"`
	Objects    int                    `json:"objects"`
	Unfiltered int                    `json:"unfiltered"`
	Active     bool                   `json:"active"`
}

// Status returns the context with its datastream counts.
func (s *Service) Status(ctx context.Context, contextID string) (*StatusReport, error) {
	sc, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	total, err := s.store.CountDataObjects(ctx, contextID, storage.DataFilter{})
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	unfiltered, err := s.store.CountDataObjects(ctx, contextID, storage.DataFilter{UnfilteredOnly: true})
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &StatusReport{Context: sc, Objects: total, Unfiltered: unfiltered, Active: s.orch.Active(contextID)}, nil
}

// Logs returns the operator log of one stage.
func (s *Service) Logs(ctx context.Context, contextID string, stage lifecycle.Stage) ([]string, error) {
	sc, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("logs: %w", err)
	}
	return stagelog.Read(s.blobs, blobstore.ScopeOf(sc), stage)
}

// Exportable reports whether results may be downloaded: the last provide
// finished, or an earlier iteration did.
func Exportable(sc *storage.SearchContext) bool {
	switch sc.Status {
	case lifecycle.StatusFinishedProviding, lifecycle.StatusWaitingIteration:
		return true
	}
	return sc.Iterations > 1
}

// ExportResults writes the unfiltered datastream as "json" (NDJSON) or
// "csv".
func (s *Service) ExportResults(ctx context.Context, contextID, format string, w io.Writer) error {
	sc, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if !Exportable(sc) {
		return fmt.Errorf("export %s (%s): %w", contextID, sc.Status, ErrNotExportable)
	}

	var exp storage.Exporter
	switch strings.ToLower(format) {
	case "", "json":
		exp = jsonbackend.New(w)
	case "csv":
		exp = csvbackend.New(w)
	default:
		return fmt.Errorf("export %q: %w", format, ErrUnknownFormat)
	}

	objects, err := s.store.ListDataObjects(ctx, contextID, storage.DataFilter{UnfilteredOnly: true})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, obj := range objects {
		if err := exp.Export(ctx, obj); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	return exp.Close()
}

// Summary aggregates the whole datastream of a context.
func (s *Service) Summary(ctx context.Context, contextID string) (report.Summary, error) {
	sc, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return report.Summary{}, fmt.Errorf("summary: %w", err)
	}
	objects, err := s.store.ListDataObjects(ctx, contextID, storage.DataFilter{})
	if err != nil {
		return report.Summary{}, fmt.Errorf("summary: %w", err)
	}
	var keywords []string
	cfg, err := s.store.GetConfiguration(ctx, contextID)
	switch {
	case err == nil:
		keywords = cfg.Keywords
	case !errors.Is(err, storage.ErrNotFound):
		return report.Summary{}, fmt.Errorf("summary: %w", err)
	}
	return report.GenerateSummary(sc, keywords, objects), nil
}

// ImportArchive seeds the datastream from a zip of media files. It returns
// how many new objects were stored.
func (s *Service) ImportArchive(ctx context.Context, contextID string, zr *zip.Reader) (int, error) {
	if s.importer == nil {
		return 0, errors.New("import archive: no importer configured")
	}
	sc, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return 0, fmt.Errorf("import archive: %w", err)
	}
	if s.orch.Active(contextID) || lifecycle.IsRunning(sc.Status) {
		return 0, fmt.Errorf("import archive %s: %w", contextID, ErrBusy)
	}
	items, err := s.importer.ImportArchive(ctx, blobstore.ScopeOf(sc), zr)
	if err != nil {
		return 0, fmt.Errorf("import archive: %w", err)
	}
	objs := make([]*storage.DataObject, 0, len(items))
	for _, it := range items {
		objs = append(objs, it.Object(contextID))
	}
	n, err := s.store.InsertDataObjects(ctx, objs)
	if err != nil {
		return 0, fmt.Errorf("import archive: %w", err)
	}
	s.logger.Info("archive imported", "context_id", contextID, "objects", n)
	return n, nil
}
