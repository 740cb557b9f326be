// Package pipeline wires collection, batch resolution, rendering and
// substitution into the two public entry points.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/relink/internal/embed"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
	"github.com/starford/relink/internal/render"
	"github.com/starford/relink/internal/resolver"
	"github.com/starford/relink/internal/siteconfig"
)

var errNoSites = errors.New("pipeline: site resolution is not configured")

// Result is the outcome of one render run.
type Result struct {
	HTML        string              `json:"html"`
	References  []nostrid.Reference `json:"references"`
	Resolved    int                 `json:"resolved"`
	Undecodable []string            `json:"undecodable,omitempty"`
}

// Pipeline is safe for concurrent use; every run has its own lookup maps.
type Pipeline struct {
	resolver *resolver.Resolver
	renderer *render.Renderer
	sites    *siteconfig.Resolver
	logger   *slog.Logger
}

// New creates a pipeline. sites may be nil when no site is served.
func New(res *resolver.Resolver, renderer *render.Renderer, sites *siteconfig.Resolver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{resolver: res, renderer: renderer, sites: sites, logger: logger}
}

// ResolveAndRender returns text with every resolvable reference rendered.
func (p *Pipeline) ResolveAndRender(ctx context.Context, text string) string {
	return p.Render(ctx, text).HTML
}

// Render runs the full pipeline and reports what it found.
func (p *Pipeline) Render(ctx context.Context, text string) Result {
	c := embed.Collect(text)
	out := Result{HTML: text, References: c.References, Undecodable: c.Undecodable}
	if len(c.Occurrences) == 0 {
		return out
	}

	results := p.resolver.Resolve(ctx, c.References)
	for _, ref := range c.References {
		if _, missing := results.Lookup(ref).(models.NotFound); !missing {
			out.Resolved++
		}
	}
	out.HTML = embed.Substitute(text, func(ref nostrid.Reference) string {
		return p.renderer.Render(ref, results.Lookup(ref), results)
	})
	p.logger.Debug("pipeline: rendered",
		slog.Int("references", len(c.References)),
		slog.Int("resolved", out.Resolved))
	return out
}

// ResolveSiteConfig returns the site configuration at a coordinate or legacy
// naddr address with theme applied.
func (p *Pipeline) ResolveSiteConfig(ctx context.Context, coordinateOrLegacyAddress, theme string) (models.SiteConfig, error) {
	if p.sites == nil {
		return models.SiteConfig{}, errNoSites
	}
	return p.sites.Resolve(ctx, coordinateOrLegacyAddress, theme)
}

// Sites returns the site resolver, or nil.
func (p *Pipeline) Sites() *siteconfig.Resolver { return p.sites }
