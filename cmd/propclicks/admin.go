package main

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hannerluke-gif/prop-tools/analytics"
)

func (a *app) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.check(ip) {
		return c.JSON(http.StatusTooManyRequests, echo.Map{"ok": false, "error": "too_many_attempts"})
	}

	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.cfg.AdminPassword)) != 1 {
		a.loginLimiter.record(ip)
		a.log.Warn("admin login failed", zap.String("ip", ip))
		return c.JSON(http.StatusUnauthorized, echo.Map{"ok": false, "error": "invalid_password"})
	}

	if err := setAdminSession(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (a *app) handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// adminStats is the dashboard snapshot: table sizes, freshness, and the
// current ranking.
type adminStats struct {
	RawClicks   int64                  `json:"raw_clicks"`
	DailyRows   int64                  `json:"daily_rows"`
	LastClickAt *time.Time             `json:"last_click_at"`
	TopGuides   []analytics.GuideCount `json:"top_guides"`
}

func (a *app) handleAdminStats(c echo.Context) error {
	if !isAdmin(c) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"ok": false, "error": "unauthorized"})
	}

	ctx := c.Request().Context()
	store := a.svc.Store()

	raw, err := store.RawCount(ctx)
	if err != nil {
		return err
	}
	daily, err := store.DailyCount(ctx)
	if err != nil {
		return err
	}
	last, err := store.LastClickAt(ctx)
	if err != nil {
		return err
	}

	days, _ := strconv.Atoi(c.QueryParam("days"))
	if days <= 0 {
		days = analytics.DefaultTopDays
	}
	top, err := a.svc.TopGuides(ctx, days, analytics.MaxTopLimit)
	if err != nil {
		return err
	}

	stats := adminStats{RawClicks: raw, DailyRows: daily, TopGuides: top}
	if !last.IsZero() {
		stats.LastClickAt = &last
	}
	return c.JSON(http.StatusOK, stats)
}
