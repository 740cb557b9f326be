package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/starford/relink/internal/apperr"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/nostrid"
)

// Defaults.
const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultMaxEvents    = 500
)

// Options configures a Pool.
type Options struct {
	// Defaults are queried on every request in addition to any hints.
	Defaults     []string
	QueryTimeout time.Duration
	MaxEvents    int
	Logger       *slog.Logger
	Dialer       *websocket.Dialer
}

// Pool queries a set of relays concurrently. It holds no connections between
// queries.
type Pool struct {
	defaults  []string
	timeout   time.Duration
	maxEvents int
	logger    *slog.Logger
	dialer    *websocket.Dialer
}

// NewPool creates a relay pool.
func NewPool(opts Options) *Pool {
	p := &Pool{
		defaults:  normalizeAll(opts.Defaults),
		timeout:   opts.QueryTimeout,
		maxEvents: opts.MaxEvents,
		logger:    opts.Logger,
		dialer:    opts.Dialer,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultQueryTimeout
	}
	if p.maxEvents <= 0 {
		p.maxEvents = DefaultMaxEvents
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.dialer == nil {
		p.dialer = &websocket.Dialer{HandshakeTimeout: p.timeout}
	}
	return p
}

// Relays returns the union of hints and the configured defaults, hints first.
func (p *Pool) Relays(hints []string) []string {
	return normalizeAll(append(append([]string(nil), hints...), p.defaults...))
}

// Query sends filters to every relay in hints plus the defaults and merges
// the answers. A failing relay is logged and skipped; Query fails only when
// no relay answered.
func (p *Pool) Query(ctx context.Context, hints []string, filters ...Filter) ([]models.Event, error) {
	urls := p.Relays(hints)
	if len(urls) == 0 {
		return nil, fmt.Errorf("relay: query: no relays configured: %w", apperr.ErrUpstreamUnavailable)
	}

	var (
		mu      sync.Mutex
		batches = make([][]models.Event, len(urls))
		errs    []error
		g       errgroup.Group
	)
	for i, url := range urls {
		g.Go(func() error {
			events, err := p.queryOne(ctx, url, filters)
			if err != nil {
				p.logger.Warn("relay: query failed", slog.String("relay", url), slog.String("error", err.Error()))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			batches[i] = events
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == len(urls) {
		return nil, fmt.Errorf("relay: query: %w: %w", apperr.ErrUpstreamUnavailable, errors.Join(errs...))
	}
	return merge(batches), nil
}

// FetchEvents looks messages up by id.
func (p *Pool) FetchEvents(ctx context.Context, ids, hints []string) ([]models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return p.Query(ctx, hints, Filter{IDs: ids, Limit: len(ids)})
}

// FetchProfiles returns the newest profile metadata event of each author.
func (p *Pool) FetchProfiles(ctx context.Context, pubkeys, hints []string) ([]models.Event, error) {
	if len(pubkeys) == 0 {
		return nil, nil
	}
	return p.Query(ctx, hints, Filter{Authors: pubkeys, Kinds: []int{models.KindProfileMetadata}, Limit: len(pubkeys)})
}

// FetchAddressable returns the newest version of the document at c, or nil.
func (p *Pool) FetchAddressable(ctx context.Context, c nostrid.Coordinate, hints []string) (*models.Event, error) {
	events, err := p.Query(ctx, hints, Filter{
		Authors: []string{c.Author},
		Kinds:   []int{c.Kind},
		Tags:    map[string][]string{"d": {c.Slug}},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].Slug() == c.Slug {
			return &events[i], nil
		}
	}
	return nil, nil
}

// queryOne runs one subscription against url until EOSE, CLOSED or timeout.
func (p *Pool) queryOne(ctx context.Context, url string, filters []Filter) ([]models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, _, err := p.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	subID := uuid.NewString()
	req := []any{"REQ", subID}
	for _, f := range filters {
		req = append(req, f)
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("relay: send REQ to %s: %w", url, err)
	}

	var events []models.Event
	for len(events) < p.maxEvents {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// Timed out after a partial answer: keep what arrived.
				if len(events) > 0 {
					break
				}
				return nil, fmt.Errorf("relay: read %s: %w", url, ctx.Err())
			}
			return nil, fmt.Errorf("relay: read %s: %w", url, err)
		}
		done, ev, err := p.handle(url, subID, data)
		if err != nil {
			return nil, err
		}
		if ev != nil && matchesAny(filters, ev) {
			events = append(events, *ev)
		}
		if done {
			break
		}
	}

	_ = conn.WriteJSON([]any{"CLOSE", subID})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return events, nil
}

// handle interprets one relay message. done reports the end of stored events.
func (p *Pool) handle(url, subID string, data []byte) (done bool, ev *models.Event, err error) {
	var msg []json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil || len(msg) == 0 {
		p.logger.Debug("relay: ignoring malformed message", slog.String("relay", url))
		return false, nil, nil
	}
	var label string
	if err := json.Unmarshal(msg[0], &label); err != nil {
		return false, nil, nil
	}

	switch label {
	case "EVENT":
		if len(msg) < 3 || !sameSub(msg[1], subID) {
			return false, nil, nil
		}
		var e models.Event
		if err := json.Unmarshal(msg[2], &e); err != nil {
			p.logger.Debug("relay: ignoring undecodable event", slog.String("relay", url))
			return false, nil, nil
		}
		if err := Verify(&e); err != nil {
			p.logger.Warn("relay: dropping unverified event",
				slog.String("relay", url),
				slog.String("id", e.ID),
				slog.String("error", err.Error()))
			return false, nil, nil
		}
		return false, &e, nil
	case "EOSE":
		return len(msg) >= 2 && sameSub(msg[1], subID), nil, nil
	case "CLOSED":
		if len(msg) >= 2 && sameSub(msg[1], subID) {
			var reason string
			if len(msg) >= 3 {
				_ = json.Unmarshal(msg[2], &reason)
			}
			return true, nil, fmt.Errorf("relay: %s closed subscription: %s", url, reason)
		}
	case "NOTICE":
		var notice string
		if len(msg) >= 2 {
			_ = json.Unmarshal(msg[1], &notice)
		}
		p.logger.Debug("relay: notice", slog.String("relay", url), slog.String("notice", notice))
	}
	return false, nil, nil
}

func sameSub(raw json.RawMessage, subID string) bool {
	var s string
	return json.Unmarshal(raw, &s) == nil && s == subID
}

func matchesAny(filters []Filter, ev *models.Event) bool {
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return len(filters) == 0
}

// normalizeAll trims, drops non-websocket URLs and dedupes, preserving order.
func normalizeAll(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
