package list

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Format describes how a list payload is encoded.
type Format string

const (
	// FormatNIP05 is a NIP-05 identity document: {"names": {"alice": "<pubkey>"}}.
	// The values are the list entries.
	FormatNIP05 Format = "nip05"
	// FormatJSON is a flat JSON array of strings.
	FormatJSON Format = "json"
	// FormatLines is newline-separated plain text; blank lines and
	// '#'-prefixed comments are skipped.
	FormatLines Format = "lines"
)

// ErrEmptyPayload is returned when a fetch succeeds mechanically but yields
// no entries. An empty response is treated as a failure, not as "list
// cleared", unless the list is explicitly configured to allow it.
var ErrEmptyPayload = errors.New("list payload contained no entries")

const (
	fetchTimeout    = 15 * time.Second
	maxPayloadBytes = 8 << 20
)

// Source fetches one list from its origin and returns a normalized snapshot.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
	Label() string
}

// NewSource builds a Source for a URI: http(s) origins get an HTTPSource,
// anything else (optionally file://-prefixed) a FileSource.
func NewSource(uri string, format Format, allowEmpty bool) (Source, error) {
	if uri == "" {
		return nil, errors.New("list source is empty")
	}
	switch format {
	case FormatNIP05, FormatJSON, FormatLines:
	default:
		return nil, fmt.Errorf("unknown list format %q", format)
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return NewHTTPSource(uri, format, allowEmpty), nil
	}
	return NewFileSource(strings.TrimPrefix(uri, "file://"), format, allowEmpty), nil
}

// HTTPSource fetches a list over HTTP with bounded retries and a hard
// per-request timeout. A timeout behaves exactly like any other fetch
// failure: the caller keeps its previous snapshot.
type HTTPSource struct {
	url        string
	format     Format
	allowEmpty bool
	client     *retryablehttp.Client
	now        func() time.Time
}

func NewHTTPSource(url string, format Format, allowEmpty bool) *HTTPSource {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = fetchTimeout
	client.Logger = nil

	return &HTTPSource{
		url:        url,
		format:     format,
		allowEmpty: allowEmpty,
		client:     client,
		now:        time.Now,
	}
}

func (s *HTTPSource) Label() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) (*Snapshot, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", s.url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", s.url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.url, err)
	}

	entries, err := parsePayload(data, s.format)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.url, err)
	}

	snap := NewSnapshot(entries, s.url, s.now())
	if snap.Len() == 0 && !s.allowEmpty {
		return nil, fmt.Errorf("%s: %w", s.url, ErrEmptyPayload)
	}
	return snap, nil
}

// FileSource reads a list from the local filesystem.
type FileSource struct {
	path       string
	format     Format
	allowEmpty bool
	now        func() time.Time
}

func NewFileSource(path string, format Format, allowEmpty bool) *FileSource {
	return &FileSource{path: path, format: format, allowEmpty: allowEmpty, now: time.Now}
}

func (s *FileSource) Label() string { return s.path }

func (s *FileSource) Fetch(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	entries, err := parsePayload(data, s.format)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	snap := NewSnapshot(entries, s.path, s.now())
	if snap.Len() == 0 && !s.allowEmpty {
		return nil, fmt.Errorf("%s: %w", s.path, ErrEmptyPayload)
	}
	return snap, nil
}

func parsePayload(data []byte, format Format) ([]string, error) {
	switch format {
	case FormatNIP05:
		var doc struct {
			Names map[string]string `json:"names"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		entries := make([]string, 0, len(doc.Names))
		for _, pubkey := range doc.Names {
			entries = append(entries, pubkey)
		}
		return entries, nil

	case FormatJSON:
		var entries []string
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		return entries, nil

	case FormatLines:
		var entries []string
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			entries = append(entries, line)
		}
		return entries, nil

	default:
		return nil, fmt.Errorf("unknown list format %q", format)
	}
}
