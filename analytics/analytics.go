// Package analytics records guide link clicks for the prop-firm comparison
// site, rolls raw events up into daily summaries, and answers "most clicked
// guides" queries for the Popular Now widget.
package analytics

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Input validation limits. Title and href are truncated at these lengths,
// never rejected; guide_id and user agent are hard limits.
const (
	MaxGuideIDLen   = 100
	MaxTitleLen     = 200
	MaxHrefLen      = 300
	MaxUserAgentLen = 255
)

// EventType tags which logical click stream a row belongs to.
type EventType string

const (
	// EventGuide is a click on a guide link ("Keep Learning", index cards).
	EventGuide EventType = "guide"
	// EventBack is a click on a back-navigation link inside a guide page.
	EventBack EventType = "back"
)

// Back-navigation clicks carry a synthetic guide_id from this closed set.
var backGuideIDs = map[string]bool{
	"back-context": true,
	"back-index":   true,
}

var (
	slugRe  = regexp.MustCompile(`^[a-z0-9-]+$`) // "what-is-a-prop-firm"
	botUARe = regexp.MustCompile(`(?i)bot|spider|crawl|scraper|facebookexternalhit|twitterbot`)
)

// Error kinds. Callers classify failures with errors.Is; handlers map each
// kind to a stable HTTP status.
var (
	ErrValidation   = errors.New("validation failed")
	ErrBotDetected  = errors.New("bot filtered")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnconfigured = errors.New("not configured")
	ErrStorage      = errors.New("storage failure")
)

// RejectError is a client-caused rejection with a stable reason code.
type RejectError struct {
	Kind   error  // ErrValidation or ErrBotDetected
	Reason string // e.g. "invalid_guide_id", "bot_filtered"
}

func (e *RejectError) Error() string { return e.Reason }

func (e *RejectError) Unwrap() error { return e.Kind }

func rejectValidation(reason string) error {
	return &RejectError{Kind: ErrValidation, Reason: reason}
}

// Reason returns the stable reason code carried by err, or "" if err is not
// a rejection.
func Reason(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// ClickEvent is one raw, append-only click row.
type ClickEvent struct {
	ID         int64
	GuideID    string
	GuideTitle string
	Href       string
	EventType  EventType
	UserAgent  string // retained only for bot forensics, never exposed by queries
	Timestamp  time.Time
}

// ClickRequest is the JSON payload accepted by the collect endpoints.
// Any client-supplied timestamp field is ignored; the server assigns time.
type ClickRequest struct {
	GuideID    string `json:"guide_id"`
	GuideTitle string `json:"guide_title"`
	Href       string `json:"href"`
}

// GuideCount is one ranked entry returned by TopGuides.
type GuideCount struct {
	GuideID string `json:"guide_id"`
	Clicks  int64  `json:"clicks"`
}

// RollupResult reports what a rollup run did, for observability.
type RollupResult struct {
	AggregatedGuides int `json:"aggregated_guides"`
	PurgedRecords    int `json:"purged_records"`
}

// ValidateRequest normalizes req in place and validates it for the given
// stream. guide_id is trimmed and lower-cased before the slug check; title
// and href are trimmed and truncated, never rejected for length.
func ValidateRequest(req *ClickRequest, et EventType) error {
	req.GuideID = strings.ToLower(strings.TrimSpace(req.GuideID))
	req.GuideTitle = truncate(strings.TrimSpace(req.GuideTitle), MaxTitleLen)
	req.Href = truncate(strings.TrimSpace(req.Href), MaxHrefLen)

	if req.GuideID == "" {
		return rejectValidation("missing_guide_id")
	}
	if len(req.GuideID) > MaxGuideIDLen {
		return rejectValidation("guide_id_too_long")
	}
	if !slugRe.MatchString(req.GuideID) {
		return rejectValidation("invalid_guide_id")
	}
	if et == EventBack && !backGuideIDs[req.GuideID] {
		return rejectValidation("invalid_back_type")
	}
	return nil
}

// IsBot reports whether the User-Agent matches a known crawler signature.
// An empty User-Agent is not treated as a bot.
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return botUARe.MatchString(userAgent)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
