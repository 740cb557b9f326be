// Package eventservice coordinates the event archive, the local index, the
// two-tier store and the rendering pipeline behind one API used by the HTTP
// handlers, the MCP tools and the archive watcher.
package eventservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/embed"
	"github.com/starford/relink/internal/index"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/parser"
	"github.com/starford/relink/internal/pipeline"
	"github.com/starford/relink/internal/siteconfig"
	"github.com/starford/relink/internal/storage"
	"github.com/starford/relink/internal/store"
)

// Archive directories written by imports.
const (
	ImportDir = "events"
	UploadDir = "uploads"
)

// Site names the configuration served when a request does not pick one.
type Site struct {
	Coordinate string
	Theme      string
}

// EventDetail is an event together with its decoded identifiers.
type EventDetail struct {
	Event      models.Event `json:"event"`
	Token      string       `json:"token"`
	Coordinate string       `json:"coordinate,omitempty"`
	Source     string       `json:"source,omitempty"`
}

// FileImport describes an archived event file.
type FileImport struct {
	Path     string   `json:"path"`
	Checksum string   `json:"checksum"`
	IDs      []string `json:"ids"`
	Skipped  int      `json:"skipped"`
}

// ImportResult describes an archived event.
type ImportResult struct {
	Path     string      `json:"path"`
	Checksum string      `json:"checksum"`
	Detail   EventDetail `json:"detail"`
}

// Change announces events that were indexed or removed. Path is the
// archive file involved, empty for events cached from the network.
type Change struct {
	Kind        string
	Path        string
	Events      []models.Event
	Coordinates []string
}

// Service coordinates storage, index and resolution operations.
type Service struct {
	archive  storage.Provider
	db       *index.DB
	store    *store.TwoTier
	pipeline *pipeline.Pipeline
	site     Site
	logger   *slog.Logger
	onChange func(Change)
}

// NewService creates a new event service.
func NewService(archive storage.Provider, db *index.DB, st *store.TwoTier, p *pipeline.Pipeline, site Site, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{archive: archive, db: db, store: st, pipeline: p, site: site, logger: logger}
}

// OnChange registers fn to hear about every change the service makes or is
// told about through Changed. It must be called before the service is used.
func (s *Service) OnChange(fn func(Change)) {
	s.onChange = fn
}

// GetEvent looks an event up locally, then on the network.
func (s *Service) GetEvent(ctx context.Context, id string) (*EventDetail, error) {
	found, err := s.store.FetchMessages(ctx, []string{id}, nil)
	if ev, ok := found[id].(*models.Event); ok {
		return detail(*ev, ""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventservice: get %s: %w", id, err)
	}
	return nil, apperr.ErrNotFound
}

// GetProfile returns the newest profile of pubkey.
func (s *Service) GetProfile(ctx context.Context, pubkey string) (*models.Profile, error) {
	found, err := s.store.FetchProfiles(ctx, []string{pubkey}, nil)
	if p, ok := found[pubkey].(*models.Profile); ok {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventservice: get profile %s: %w", pubkey, err)
	}
	return nil, apperr.ErrNotFound
}

// GetDocument resolves an addressable document from a coordinate or naddr.
func (s *Service) GetDocument(ctx context.Context, token string) (*EventDetail, error) {
	ref, err := nostrid.Decode(token)
	if err != nil {
		return nil, err
	}
	if !ref.Kind.IsAddressable() {
		return nil, fmt.Errorf("eventservice: %s is a %s: %w", token, ref.Kind, apperr.ErrUnsupportedKind)
	}
	c, err := ref.Coordinate()
	if err != nil {
		return nil, err
	}
	ev, err := s.store.LookupDocument(ctx, c, ref.LocationHints)
	if err != nil {
		return nil, err
	}
	return detail(*ev, ""), nil
}

// ImportEvent validates ev, writes it to the archive and indexes it.
func (s *Service) ImportEvent(ctx context.Context, ev models.Event) (*ImportResult, error) {
	if err := parser.ValidateEvent(ev); err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidEvent, err.Error())
	}
	path := ImportDir + "/" + ev.ID + ".json"
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("eventservice: encode %s: %w", ev.ID, err)
	}
	if err := s.archive.Create(path, data); err != nil {
		return nil, err
	}
	sum := storage.Checksum(data)
	if err := s.db.ReplaceSource(path, sum, []models.Event{ev}); err != nil {
		return nil, err
	}
	s.Changed(ctx, index.ChangeCreated, path, []models.Event{ev})
	return &ImportResult{Path: path, Checksum: sum, Detail: *detail(ev, path)}, nil
}

// ImportFile stores an uploaded JSON or JSON Lines file under UploadDir and
// indexes its events. name must be a plain file name.
func (s *Service) ImportFile(ctx context.Context, name string, data []byte) (*FileImport, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !storage.IsEventFile(name) {
		return nil, fmt.Errorf("%w: file name %q must be a plain .json or .jsonl name", apperr.ErrInvalidEvent, name)
	}
	path := UploadDir + "/" + name
	res, err := parser.ParseEvents(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidEvent, err.Error())
	}
	if len(res.Events) == 0 {
		return nil, fmt.Errorf("%w: no valid events in %s", apperr.ErrInvalidEvent, name)
	}

	if err := s.archive.Create(path, data); err != nil {
		return nil, err
	}
	sum := storage.Checksum(data)
	if err := s.db.ReplaceSource(path, sum, res.Events); err != nil {
		return nil, err
	}
	s.Changed(ctx, index.ChangeCreated, path, res.Events)

	out := &FileImport{Path: path, Checksum: sum, Skipped: res.Skipped}
	for _, ev := range res.Events {
		out.IDs = append(out.IDs, ev.ID)
	}
	return out, nil
}

// ListArchive returns the event files under dir.
func (s *Service) ListArchive(dir string) ([]models.ArchiveFile, error) {
	return s.archive.List(dir)
}

// ReadArchive returns the raw content of an archive file.
func (s *Service) ReadArchive(path string) ([]byte, error) {
	return s.archive.Read(path)
}

// DeleteEvent removes an imported event from the archive, or a cached
// network event from the index. The file is unindexed before it is removed
// so the archive watcher has nothing left to report.
func (s *Service) DeleteEvent(ctx context.Context, id string) ([]models.Event, error) {
	path := ImportDir + "/" + id + ".json"
	removed, err := s.db.DeleteSource(path)
	if err != nil {
		return nil, err
	}
	fileErr := s.archive.Delete(path)
	if fileErr != nil && !errors.Is(fileErr, apperr.ErrNotFound) {
		return nil, fileErr
	}
	if fileErr == nil || len(removed) > 0 {
		s.Changed(ctx, index.ChangeDeleted, path, removed)
		return nonNil(removed), nil
	}

	ev, err := s.db.FindEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.DeleteEvent(id); err != nil {
		return nil, err
	}
	s.Changed(ctx, index.ChangeDeleted, "", []models.Event{*ev})
	return []models.Event{*ev}, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Render resolves and renders every reference in text.
func (s *Service) Render(ctx context.Context, text string) pipeline.Result {
	return s.pipeline.Render(ctx, text)
}

// References lists the references found in text without resolving them.
func (s *Service) References(text string) *embed.Collection {
	return embed.Collect(text)
}

// Decode turns a token into a reference.
func (s *Service) Decode(token string) (nostrid.Reference, error) {
	return nostrid.Decode(token)
}

// Site returns the configuration at input with theme applied. Empty
// arguments fall back to the configured site.
func (s *Service) Site(ctx context.Context, input, theme string) (models.SiteConfig, error) {
	input, theme = s.siteArgs(input, theme)
	if input == "" {
		return models.SiteConfig{}, fmt.Errorf("eventservice: no site configured: %w", apperr.ErrNotFound)
	}
	return s.pipeline.ResolveSiteConfig(ctx, input, theme)
}

// RefreshSite re-fetches the configuration at input and returns it.
func (s *Service) RefreshSite(ctx context.Context, input, theme string) (models.SiteConfig, error) {
	input, theme = s.siteArgs(input, theme)
	sites := s.pipeline.Sites()
	if input == "" || sites == nil {
		return models.SiteConfig{}, fmt.Errorf("eventservice: no site configured: %w", apperr.ErrNotFound)
	}
	if err := sites.Warm(ctx, input); err != nil {
		return models.SiteConfig{}, err
	}
	return sites.Resolve(ctx, input, theme)
}

// InvalidateSite drops the cached configuration at input.
func (s *Service) InvalidateSite(ctx context.Context, input string) error {
	input, _ = s.siteArgs(input, "")
	sites := s.pipeline.Sites()
	if input == "" || sites == nil {
		return fmt.Errorf("eventservice: no site configured: %w", apperr.ErrNotFound)
	}
	c, _, err := siteconfig.Parse(input)
	if err != nil {
		return err
	}
	return sites.Invalidate(ctx, c.String())
}

// Changed invalidates what events affect and announces the change. The
// archive watcher reports through it; the service's own writes do too.
func (s *Service) Changed(ctx context.Context, kind, path string, events []models.Event) []string {
	coords := s.ApplyChange(ctx, events)
	if s.onChange != nil && len(events) > 0 {
		s.onChange(Change{Kind: kind, Path: path, Events: events, Coordinates: coords})
	}
	return coords
}

// ApplyChange drops cached lookups made stale by changed events and returns
// the affected coordinates.
func (s *Service) ApplyChange(ctx context.Context, events []models.Event) []string {
	var coords []string
	sites := s.pipeline.Sites()
	for i := range events {
		ev := &events[i]
		if !models.IsAddressable(ev.Kind) {
			continue
		}
		coord := ev.Coordinate()
		coords = append(coords, coord)
		if err := s.store.InvalidateDocument(ctx, coord); err != nil {
			s.logger.Warn("eventservice: invalidate document failed",
				slog.String("coordinate", coord),
				slog.String("error", err.Error()))
		}
		if ev.Kind == models.KindPublicationIndex && sites != nil {
			if err := sites.Invalidate(ctx, coord); err != nil {
				s.logger.Warn("eventservice: invalidate site failed",
					slog.String("coordinate", coord),
					slog.String("error", err.Error()))
			}
		}
	}
	return coords
}

func (s *Service) siteArgs(input, theme string) (string, string) {
	if input == "" {
		input = s.site.Coordinate
	}
	if theme == "" {
		theme = s.site.Theme
	}
	return input, theme
}

func nonNil(events []models.Event) []models.Event {
	if events == nil {
		return []models.Event{}
	}
	return events
}

func detail(ev models.Event, source string) *EventDetail {
	d := &EventDetail{Event: ev, Source: source}
	if models.IsAddressable(ev.Kind) {
		d.Coordinate = ev.Coordinate()
		if c, err := nostrid.ParseCoordinate(d.Coordinate); err == nil {
			d.Token, _ = nostrid.EncodeAddress(c, nil)
		}
		return d
	}
	d.Token, _ = nostrid.EncodeNote(ev.ID)
	return d
}
