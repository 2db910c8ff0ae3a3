package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/omicslake/sra-mirror-lake/logging"
	"github.com/omicslake/sra-mirror-lake/resilience"
)

// ListingClient fetches the remote mirror directory listing and opens dump
// byte streams. All network calls go through the retry manager and honor the
// per-request timeout.
type ListingClient struct {
	baseURL string
	client  *http.Client
	retry   *resilience.RetryManager
	logger  *logging.ComponentLogger
}

// NewListingClient creates a client for the mirror at baseURL, e.g.
// https://ftp.ncbi.nlm.nih.gov/sra/reports/Mirroring/
func NewListingClient(baseURL string, timeout time.Duration, retry *resilience.RetryManager, logger *logging.ComponentLogger) *ListingClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &ListingClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
		logger:  logger,
	}
}

var (
	hrefPattern     = regexp.MustCompile(`href="([^"?]+)"`)
	mirrorDirName   = regexp.MustCompile(`^NCBI_SRA_Mirroring_[^/]*/$`)
	dumpFilePattern = regexp.MustCompile(`_set\.xml(\.\w+)?$`)
)

// FetchListing walks the mirror index and returns the absolute URLs of every
// published dump file, sorted for deterministic downstream resolution. A
// failure here is run-fatal; there is nothing to process without a listing.
func (lc *ListingClient) FetchListing(ctx context.Context) ([]string, error) {
	index, err := lc.fetchPage(ctx, lc.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mirror index: %w", err)
	}

	var dirs []string
	for _, href := range extractHrefs(index) {
		if mirrorDirName.MatchString(href) {
			dirs = append(dirs, href)
		}
	}

	lc.logger.Info().
		Str("base_url", lc.baseURL).
		Int("directories", len(dirs)).
		Msg("Fetched mirror index")

	var files []string
	for _, dir := range dirs {
		dirURL := lc.baseURL + dir
		page, err := lc.fetchPage(ctx, dirURL)
		if err != nil {
			return nil, fmt.Errorf("failed to list mirror directory %s: %w", dir, err)
		}
		for _, href := range extractHrefs(page) {
			if dumpFilePattern.MatchString(href) {
				files = append(files, dirURL+href)
			}
		}
	}

	sort.Strings(files)

	lc.logger.Info().
		Int("dump_files", len(files)).
		Msg("Fetched mirror listing")

	return files, nil
}

// Open returns the raw byte stream for one dump URL. The caller owns the
// stream and must close it. Transient failures establishing the stream are
// retried; read errors after that are the caller's to handle.
func (lc *ListingClient) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return resilience.ExecuteWithResult(ctx, lc.retry, "open_dump_stream", func() (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
		}
		resp, err := lc.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: %s", rawURL, statusError(resp.StatusCode))
		}
		return resp.Body, nil
	})
}

func (lc *ListingClient) fetchPage(ctx context.Context, pageURL string) (string, error) {
	return resilience.ExecuteWithResult(ctx, lc.retry, "fetch_listing_page", func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return "", fmt.Errorf("failed to build request for %s: %w", pageURL, err)
		}
		resp, err := lc.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetch %s: %s", pageURL, statusError(resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", pageURL, err)
		}
		return string(body), nil
	})
}

// statusError renders an HTTP status so the retry manager can classify it:
// the textual form of 429/5xx statuses matches the retryable patterns.
func statusError(code int) string {
	return strings.ToLower(fmt.Sprintf("%d %s", code, http.StatusText(code)))
}

func extractHrefs(page string) []string {
	var hrefs []string
	for _, m := range hrefPattern.FindAllStringSubmatch(page, -1) {
		href := m[1]
		// Keep only relative child links; listing pages also carry parent and
		// navigation anchors.
		if href == "../" || strings.HasPrefix(href, "/") {
			continue
		}
		if u, err := url.Parse(href); err != nil || u.IsAbs() {
			continue
		}
		hrefs = append(hrefs, href)
	}
	return hrefs
}
