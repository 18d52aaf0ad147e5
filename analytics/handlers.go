package analytics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Handler exposes the analytics HTTP surface.
type Handler struct {
	svc            *Service
	log            *zap.Logger
	collectLimiter *rateLimiter
}

// NewHandler creates the HTTP handler. collectLimit caps collect-endpoint
// requests per IP per minute; zero or negative falls back to 60 (the same
// courtesy throttle the site's dashboard collect endpoint uses).
func NewHandler(svc *Service, log *zap.Logger, collectLimit int) *Handler {
	if collectLimit <= 0 {
		collectLimit = 60
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		svc:            svc,
		log:            log,
		collectLimiter: newRateLimiter(collectLimit, time.Minute),
	}
}

// RegisterRoutes registers the analytics routes with the Echo router.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/analytics")
	g.POST("/guide-click", h.GuideClick)
	g.POST("/guide-back-click", h.GuideBackClick)
	g.GET("/top-guides", h.TopGuides)
	g.POST("/maintenance/rollup", h.Rollup)
}

// GuideClick accepts a guide link click: {guide_id, guide_title?, href?}.
func (h *Handler) GuideClick(c echo.Context) error {
	return h.record(c, EventGuide)
}

// GuideBackClick accepts a back-navigation click on the back stream.
func (h *Handler) GuideBackClick(c echo.Context) error {
	return h.record(c, EventBack)
}

func (h *Handler) record(c echo.Context, et EventType) error {
	if !h.collectLimiter.allow(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, echo.Map{"ok": false, "err": "rate_limited"})
	}

	ctype := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(ctype, echo.MIMEApplicationJSON) {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "err": "invalid_content_type"})
	}

	var req ClickRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "err": "invalid_json"})
	}

	err := h.svc.Record(c.Request().Context(), req, c.Request().UserAgent(), et)
	switch {
	case errors.Is(err, ErrBotDetected):
		botsFiltered.Inc()
		return c.JSON(http.StatusTooManyRequests, echo.Map{"ok": false, "err": Reason(err)})
	case errors.Is(err, ErrValidation):
		validationRejected.Inc()
		h.log.Warn("click validation failed",
			zap.String("reason", Reason(err)),
			zap.String("event_type", string(et)))
		return c.JSON(http.StatusBadRequest, echo.Map{"ok": false, "err": Reason(err)})
	case err != nil:
		// Full detail stays in server logs; the body carries nothing.
		h.log.Error("click persist failed", zap.Error(err), zap.String("event_type", string(et)))
		return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false})
	}

	clicksRecorded.WithLabelValues(string(et)).Inc()
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// TopGuidesResponse is the JSON shape of the ranking endpoint.
type TopGuidesResponse struct {
	Days   int          `json:"days"`
	Limit  int          `json:"limit"`
	Guides []GuideCount `json:"guides"`
}

// TopGuides returns the most clicked guides over a trailing window.
// days and limit are clamped, never rejected.
func (h *Handler) TopGuides(c echo.Context) error {
	days := intParam(c, "days", DefaultTopDays)
	limit := intParam(c, "limit", DefaultTopLimit)

	ranked, err := h.svc.TopGuides(c.Request().Context(), days, limit)
	if err != nil {
		h.log.Error("top guides query failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false})
	}
	if ranked == nil {
		ranked = []GuideCount{}
	}
	return c.JSON(http.StatusOK, TopGuidesResponse{
		Days:   clamp(days, 1, MaxTopDays),
		Limit:  clamp(limit, 1, MaxTopLimit),
		Guides: ranked,
	})
}

// Rollup runs the authenticated aggregate-then-purge maintenance job.
func (h *Handler) Rollup(c echo.Context) error {
	secret := c.Request().Header.Get("X-Admin-Secret")

	result, err := h.svc.Rollup(c.Request().Context(), secret)
	switch {
	case errors.Is(err, ErrUnconfigured):
		rollupRuns.WithLabelValues("unconfigured").Inc()
		h.log.Error("rollup requested but no admin secret configured")
		return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "error": "not_configured"})
	case errors.Is(err, ErrUnauthorized):
		rollupRuns.WithLabelValues("unauthorized").Inc()
		h.log.Warn("unauthorized rollup attempt", zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusForbidden, echo.Map{"ok": false, "error": "unauthorized"})
	case err != nil:
		rollupRuns.WithLabelValues("error").Inc()
		h.log.Error("rollup failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"ok": false, "error": "rollup_failed"})
	}

	rollupRuns.WithLabelValues("ok").Inc()
	h.log.Info("rollup complete",
		zap.Int("aggregated_guides", result.AggregatedGuides),
		zap.Int("purged_records", result.PurgedRecords))
	return c.JSON(http.StatusOK, echo.Map{
		"ok":                true,
		"aggregated_guides": result.AggregatedGuides,
		"purged_records":    result.PurgedRecords,
	})
}

func intParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
