// Package clicktrack is the embeddable client half of the guide click
// pipeline. It classifies clicks on tracked links, applies a local
// sliding-window rate limit backed by a small state file, and delivers
// payloads to the ingest endpoints best-effort: deliveries run in the
// background, results are ignored, and no failure ever reaches the caller.
//
// The limiter is a courtesy throttle only. The server applies its own
// validation, bot filtering, and rate limiting and never trusts this one.
package clicktrack

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults for the local limiter and delivery.
const (
	DefaultMaxEvents = 3
	DefaultWindow    = 60 * time.Second
	DefaultStatePath = "data/clicktrack.json"

	guideClickPath = "/analytics/guide-click"
	backClickPath  = "/analytics/guide-back-click"

	maxTitleLen = 200
)

// Config configures a Tracker. The host wires one Tracker at startup and
// hands it to whatever emits clicks; there is no package-level state.
type Config struct {
	BaseURL   string        // ingest origin, e.g. "https://proptools.example"; required
	MaxEvents int           // per-guide cap within Window (default 3)
	Window    time.Duration // sliding window length (default 60s)
	StatePath string        // session + limiter state file (default data/clicktrack.json)
	Client    *http.Client  // default: 5s total timeout
	UserAgent string        // optional User-Agent for deliveries
	Logger    *zap.Logger   // optional; delivery failures log at debug only
}

// Click is one observed click on a tracked link.
type Click struct {
	GuideID string // explicit id (data attribute); derived from Href when empty
	Title   string // visible link text, trimmed and truncated before sending
	Href    string // destination path or URL
	Back    bool   // back-navigation stream instead of the guide stream
}

// Tracker delivers click events without ever blocking or surfacing errors.
type Tracker struct {
	guideURL string
	backURL  string
	client   *http.Client
	ua       string
	log      *zap.Logger
	limiter  *limiter
	wg       sync.WaitGroup
}

// New creates a Tracker. Limiter state that cannot be read (missing file,
// parse failure) is discarded and the limiter starts fresh: the gate fails
// open, it never fails the caller.
func New(cfg Config) (*Tracker, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStatePath
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Tracker{
		guideURL: base + guideClickPath,
		backURL:  base + backClickPath,
		client:   cfg.Client,
		ua:       cfg.UserAgent,
		log:      cfg.Logger,
		limiter:  newLimiter(cfg.StatePath, cfg.MaxEvents, cfg.Window),
	}, nil
}

// clickPayload matches the ingest endpoints' request schema.
type clickPayload struct {
	GuideID    string `json:"guide_id"`
	GuideTitle string `json:"guide_title,omitempty"`
	Href       string `json:"href,omitempty"`
}

// Track records one click. It consults the limiter and, when allowed,
// hands the delivery to a background goroutine. It returns immediately so
// the click's navigation is never delayed, and it never reports failure.
func (t *Tracker) Track(ev Click) {
	id := strings.ToLower(strings.TrimSpace(ev.GuideID))
	if id == "" {
		id = GuideIDFromHref(ev.Href)
	}
	if id == "" {
		t.log.Debug("clicktrack: no guide id, dropping", zap.String("href", ev.Href))
		return
	}
	if !t.limiter.allow(id) {
		t.log.Debug("clicktrack: rate limited", zap.String("guide_id", id))
		return
	}

	title := strings.TrimSpace(ev.Title)
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	body, err := json.Marshal(clickPayload{GuideID: id, GuideTitle: title, Href: ev.Href})
	if err != nil {
		return
	}

	url := t.guideURL
	if ev.Back {
		url = t.backURL
	}
	t.wg.Add(1)
	go t.send(url, body)
}

// Allow reports whether a click on guideID would currently be sent, and
// records it if so. Track consults the limiter itself; Allow exists for
// hosts that gate other behavior (e.g. visual feedback) on the same budget.
func (t *Tracker) Allow(guideID string) bool {
	return t.limiter.allow(strings.ToLower(strings.TrimSpace(guideID)))
}

// SessionID returns the persistent random id identifying this client
// profile. It is local state only and carries no authority server-side.
func (t *Tracker) SessionID() string {
	return t.limiter.sessionID()
}

// Close waits for in-flight deliveries to finish. Hosts may skip it; the
// deliveries are best-effort either way.
func (t *Tracker) Close() {
	t.wg.Wait()
}

func (t *Tracker) send(url string, body []byte) {
	defer t.wg.Done()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if t.ua != "" {
		req.Header.Set("User-Agent", t.ua)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Debug("clicktrack: delivery failed", zap.Error(err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// GuideIDFromHref derives a guide id from the trailing path segment of a
// link destination, e.g. "/guides/what-is-a-prop-firm" → "what-is-a-prop-firm".
func GuideIDFromHref(href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	return strings.ToLower(href)
}
