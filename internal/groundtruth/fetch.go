package groundtruth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultURL is used until annotation mode selects its own payload.
	DefaultURL = "assets/ground_truth_polygons.json"
	// ModeURL is the payload loaded on annotation-mode entry.
	ModeURL = "assets/animal_segmentation_gt.json"

	defaultFetchTimeout = 5 * time.Second
	maxPayloadBytes     = 8 << 20
)

// ErrOutsideAssets rejects relative paths that resolve outside the assets directory.
var ErrOutsideAssets = errors.New("path escapes assets directory")

// Fetcher retrieves ground-truth documents over HTTP or from the assets directory.
type Fetcher struct {
	AssetsDir string
	Client    *http.Client
	Logger    *slog.Logger
}

// NewFetcher returns a fetcher with a bounded HTTP client.
func NewFetcher(assetsDir string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{
		AssetsDir: assetsDir,
		Client:    &http.Client{Timeout: timeout},
		Logger:    logger,
	}
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Fetch reads and normalizes the document at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Set, error) {
	data, err := f.read(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch ground truth %s: %w", rawURL, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fetch ground truth %s: %w", rawURL, err)
	}
	return set, nil
}

// Load is Fetch for gameplay: failures are logged and reported as absent
// ground truth so the attempt continues unscorable.
func (f *Fetcher) Load(ctx context.Context, rawURL string) *Set {
	set, err := f.Fetch(ctx, rawURL)
	if err != nil {
		f.logger().Error("failed to load ground truth", "url", rawURL, "error", err)
		return nil
	}
	f.logger().Debug("ground truth loaded", "url", rawURL, "objects", len(set.Objects), "scorable", set.Scorable())
	return set
}

func (f *Fetcher) read(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		return f.readHTTP(ctx, u.String())
	case "file":
		return readLimited(u.Path)
	case "":
		path, err := f.resolve(u.Path)
		if err != nil {
			return nil, err
		}
		return readLimited(path)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// resolve places a relative path under AssetsDir and refuses one that climbs
// out of it.
func (f *Fetcher) resolve(p string) (string, error) {
	if filepath.IsAbs(p) || f.AssetsDir == "" {
		return filepath.Clean(p), nil
	}
	joined := filepath.Join(f.AssetsDir, filepath.FromSlash(p))
	rel, err := filepath.Rel(f.AssetsDir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideAssets, p)
	}
	return joined, nil
}

func (f *Fetcher) readHTTP(ctx context.Context, target string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(io.LimitReader(res.Body, maxPayloadBytes))
}

func readLimited(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return io.ReadAll(io.LimitReader(fh, maxPayloadBytes))
}
