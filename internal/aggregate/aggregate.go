// Package aggregate orchestrates retrieval, expansion, and conversion
// across all feed URLs of a specification, merging per-feed results while
// isolating failures to the feed that caused them.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"calmerge/internal/clock"
	"calmerge/internal/convert"
	"calmerge/internal/feed"
	"calmerge/internal/ics"
	appLog "calmerge/internal/log"
	"calmerge/internal/spec"
)

// DefaultMaxFeeds bounds how many feed URLs one request may merge.
const DefaultMaxFeeds = 100

// Aggregator fans out over the feed URLs of a specification with a bounded
// worker pool and merges the per-feed results in submission order.
type Aggregator struct {
	cache    *feed.Cache
	fetch    feed.FetchFunc
	clk      clock.Clock
	ttl      time.Duration
	maxFeeds int
}

// New creates an Aggregator. ttl is the cache lifetime for fetched feed
// text; maxFeeds <= 0 selects DefaultMaxFeeds.
func New(cache *feed.Cache, fetch feed.FetchFunc, clk clock.Clock, ttl time.Duration, maxFeeds int) *Aggregator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if maxFeeds <= 0 {
		maxFeeds = DefaultMaxFeeds
	}
	return &Aggregator{
		cache:    cache,
		fetch:    fetch,
		clk:      clk,
		ttl:      ttl,
		maxFeeds: maxFeeds,
	}
}

// Aggregate processes every feed URL of the specification concurrently and returns the
// merged records. The merge is deterministic: records appear in URL
// submission order, and within one URL in production order, regardless of
// worker completion order. A failure anywhere in one URL's pipeline
// becomes exactly one error record for that URL and never disturbs its
// siblings.
//
// Requests naming more URLs than the configured maximum are rejected
// before any fetch starts.
func (a *Aggregator) Aggregate(ctx context.Context, sp spec.Specification, conv convert.Converter) ([]convert.Record, error) {
	urls := sp.URLs
	if len(urls) > a.maxFeeds {
		return nil, fmt.Errorf("cannot merge %d urls: limit is %d", len(urls), a.maxFeeds)
	}

	// The materialization window rolls with every call.
	now := a.clk.Now()
	windowStart := now.AddDate(-1, 0, 0)
	windowEnd := now.AddDate(1, 0, 0)

	perFeed := make([][]convert.Record, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxFeeds)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			perFeed[i] = a.retrieve(gctx, u, windowStart, windowEnd, conv)
			return nil
		})
	}
	// Per-feed failures are contained as records; Wait never sees them.
	_ = g.Wait()

	merged := make([]convert.Record, 0)
	for _, records := range perFeed {
		merged = append(merged, records...)
	}
	return merged, nil
}

// retrieve runs the fetch/parse/expand/convert pipeline for one feed
// URL. Every failure, including a panic in a downstream library, is turned
// into a single error record tagged with the URL.
func (a *Aggregator) retrieve(ctx context.Context, url string, windowStart, windowEnd time.Time, conv convert.Converter) (records []convert.Record) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			appLog.Error("feed pipeline panic", err, "url", url)
			records = []convert.Record{conv.ConvertError("Error", err, formatTrace(err), url)}
		}
	}()

	text, err := a.cache.GetOrFetch(ctx, url, a.ttl, a.fetch)
	if err != nil {
		return a.failed(url, err, conv)
	}

	events, err := ics.Parse(text)
	if err != nil {
		return a.failed(url, err, conv)
	}

	occurrences, err := ics.Expand(events, windowStart, windowEnd)
	if err != nil {
		return a.failed(url, err, conv)
	}

	records = make([]convert.Record, 0, len(occurrences))
	for _, occ := range occurrences {
		rec, err := conv.Convert(occ)
		if err != nil {
			return a.failed(url, err, conv)
		}
		records = append(records, rec)
	}
	return records
}

func (a *Aggregator) failed(url string, err error, conv convert.Converter) []convert.Record {
	appLog.Error("feed pipeline failed", err, "url", url)
	return []convert.Record{conv.ConvertError(errorKind(err), err, formatTrace(err), url)}
}

// kinder is implemented by the typed errors of the failure taxonomy.
type kinder interface {
	Kind() string
}

// errorKind names the failure for the error record, falling back to a
// generic name for untyped errors.
func errorKind(err error) string {
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "Error"
}

// formatTrace renders the wrap chain of err, outermost first, as a
// diagnostic trace for error records.
func formatTrace(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(err.Error())
		b.WriteString("\n")
		err = errors.Unwrap(err)
	}
	return b.String()
}
