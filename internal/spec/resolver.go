package spec

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"

	"calmerge/internal/feed"
	appLog "calmerge/internal/log"
)

// ResolutionError reports that an override specification could not be
// retrieved or parsed. It is the one failure that aborts a whole request:
// a malformed override would corrupt the entire effective configuration.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve specification from %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Kind returns the taxonomy name used in error records.
func (e *ResolutionError) Kind() string { return "SpecificationResolutionError" }

// Resolver merges the default specification, an optional remote override,
// and request query parameters into one effective Specification.
type Resolver struct {
	defaults map[string]any
	cache    *feed.Cache
	fetch    feed.FetchFunc
	ttl      time.Duration
}

// NewResolver creates a Resolver. defaults is the immutable default
// specification loaded once at process start; cache and fetch serve
// override documents so they are cacheable like any other feed.
func NewResolver(defaults map[string]any, cache *feed.Cache, fetch feed.FetchFunc, ttl time.Duration) *Resolver {
	return &Resolver{
		defaults: defaults,
		cache:    cache,
		fetch:    fetch,
		ttl:      ttl,
	}
}

// Resolve builds the effective specification for one request.
//
// Precedence, lowest to highest: defaults, override document, query
// parameters. A query parameter supplied once collapses to a scalar;
// supplied several times it stays an ordered sequence in query order.
func (r *Resolver) Resolve(ctx context.Context, query url.Values) (Specification, error) {
	merged := make(map[string]any, len(r.defaults))
	for k, v := range r.defaults {
		merged[k] = v
	}

	if overrideURL := query.Get(ParamSpecificationURL); overrideURL != "" {
		text, err := r.cache.GetOrFetch(ctx, overrideURL, r.ttl, r.fetch)
		if err != nil {
			return Specification{}, &ResolutionError{URL: overrideURL, Err: err}
		}
		values, err := parseOverride(text)
		if err != nil {
			return Specification{}, &ResolutionError{URL: overrideURL, Err: err}
		}
		for k, v := range values {
			merged[k] = v
		}
		appLog.Debug("specification override applied", "url", overrideURL, "keys", len(values))
	}

	for param, vals := range query {
		if len(vals) == 1 {
			merged[param] = vals[0]
		} else {
			merged[param] = append([]string(nil), vals...)
		}
	}

	return fromMap(merged)
}

// parseOverride parses override text, strict notation first (JSON), then
// the permissive superset (YAML). The result must be a mapping; override
// text that parses to anything else is malformed.
func parseOverride(text string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err == nil {
		return m, nil
	}
	if err := yaml.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("override is neither valid JSON nor a YAML mapping: %w", err)
	}
	return m, nil
}
