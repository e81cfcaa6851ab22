package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/muesli/gominatim"
	"github.com/rubiojr/deliverymap/pkg/logger"
)

// DefaultServer is the public Nominatim instance.
const DefaultServer = "https://nominatim.openstreetmap.org"

// DefaultMinInterval spaces consecutive upstream requests.
const DefaultMinInterval = time.Second

// nothingFound is the error text gominatim returns for an empty result set.
const nothingFound = "Nothing found; sorry :/"

var serverMu sync.Mutex

// fetchFunc performs one upstream search.
type fetchFunc func(q Query) ([]Result, error)

// Nominatim is a Searcher backed by a Nominatim server, with an optional
// SQLite cache in front. Requests are serialized and throttled.
type Nominatim struct {
	server      string
	cache       *Cache
	minInterval time.Duration
	retries     int
	fetch       fetchFunc

	throttleMu sync.Mutex
	last       time.Time
}

// NominatimOption configures a Nominatim searcher.
type NominatimOption func(*Nominatim)

// WithCache answers repeated lookups from c.
func WithCache(c *Cache) NominatimOption {
	return func(n *Nominatim) { n.cache = c }
}

// WithMinInterval overrides the spacing between upstream requests.
func WithMinInterval(d time.Duration) NominatimOption {
	return func(n *Nominatim) { n.minInterval = d }
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(r int) NominatimOption {
	return func(n *Nominatim) {
		if r >= 0 && r <= 5 {
			n.retries = r
		}
	}
}

// NewNominatim returns a searcher talking to server. An empty server selects
// DefaultServer.
func NewNominatim(server string, opts ...NominatimOption) *Nominatim {
	if strings.TrimSpace(server) == "" {
		server = DefaultServer
	}
	n := &Nominatim{
		server:      strings.TrimRight(server, "/"),
		minInterval: DefaultMinInterval,
		retries:     1,
	}
	n.fetch = n.upstream
	for _, o := range opts {
		o(n)
	}
	return n
}

// Search implements Searcher.
func (n *Nominatim) Search(ctx context.Context, q Query) ([]Result, error) {
	if n.cache != nil {
		if res, ok := n.cache.Get(ctx, q); ok {
			logger.Debug("geocode cache hit for %q", q.Text)
			return res, nil
		}
	}

	var res []Result
	var err error
	attempts := n.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := n.wait(ctx); err != nil {
			return nil, err
		}
		res, err = n.fetchCtx(ctx, q)
		if err == nil {
			if attempt > 1 {
				logger.Info("nominatim recovered after %d attempt(s) for %q", attempt, q.Text)
			}
			break
		}
		if ctx.Err() != nil || !transient(err) || attempt == attempts {
			logger.Error("nominatim search error (attempt %d/%d, query=%q): %v", attempt, attempts, q.Text, err)
			return nil, fmt.Errorf("%w: %w", ErrLookup, err)
		}
		logger.Warn("transient nominatim error (attempt %d/%d, will retry) query=%q err=%v", attempt, attempts, q.Text, err)
	}

	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	if n.cache != nil {
		if err := n.cache.Put(ctx, q, res); err != nil {
			logger.Error("geocode cache write failed for %q: %v", q.Text, err)
		}
	}
	return res, nil
}

// wait blocks until the next upstream request is allowed.
func (n *Nominatim) wait(ctx context.Context) error {
	n.throttleMu.Lock()
	defer n.throttleMu.Unlock()
	if delta := time.Since(n.last); delta < n.minInterval {
		t := time.NewTimer(n.minInterval - delta)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	n.last = time.Now()
	return nil
}

// fetchCtx runs the blocking client call and gives up when ctx ends.
func (n *Nominatim) fetchCtx(ctx context.Context, q Query) ([]Result, error) {
	type reply struct {
		res []Result
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		res, err := n.fetch(q)
		ch <- reply{res, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.res, r.err
	}
}

// upstream queries the server through gominatim. The client keeps its server
// in package state, so calls are serialized and the server set each time.
func (n *Nominatim) upstream(q Query) ([]Result, error) {
	serverMu.Lock()
	defer serverMu.Unlock()
	gominatim.SetServer(n.server)
	sq := gominatim.SearchQuery{
		Q:              q.Text,
		Limit:          q.Limit,
		Countrycodes:   q.CountryCodes,
		AcceptLanguage: q.Language,
		Addressdetails: q.AddressDetails,
	}
	res, err := sq.Get()
	if err != nil {
		// gominatim reports an empty result set as an error
		if err.Error() == nothingFound {
			return []Result{}, nil
		}
		return nil, err
	}
	out := make([]Result, 0, len(res))
	for _, r := range res {
		if r.DisplayName == "" {
			continue
		}
		out = append(out, Result{
			DisplayName: r.DisplayName,
			Lat:         r.Lat,
			Lon:         r.Lon,
			Class:       r.Class,
			Type:        r.Type,
		})
	}
	return out, nil
}

// transient reports whether err looks like a truncated or dropped response.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") || strings.Contains(s, "EOF")
}
