package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "calmerge/internal/log"
)

// NetworkError reports a transport-level failure for one feed URL:
// timeout, DNS failure, or a non-2xx response.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Kind returns the taxonomy name used in error records.
func (e *NetworkError) Kind() string { return "NetworkError" }

const defaultFetchTimeout = 15 * time.Second

// Fetcher retrieves raw feed text over HTTP. It holds no state beyond the
// network client; caching is delegated to Cache.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the given request timeout. A zero
// timeout selects the default.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs a GET for url and returns the response body as text.
// Any transport failure or non-2xx status yields a *NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", &NetworkError{URL: url, Err: errors.New("empty url")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}

	appLog.Debug("feed fetch start", "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NetworkError{URL: url, Err: errors.New(resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}

	appLog.Info("feed fetch success", "url", redactURL(url), "status", resp.StatusCode, "bytes", len(body))
	return string(body), nil
}

// redactURL hides the path and query of a feed URL for logging purposes.
// Feed URLs routinely embed access tokens.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "feed://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}

	return u[:j] + redactedSuffix
}
