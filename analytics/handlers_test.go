package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestServer(t *testing.T, svc *Service, collectLimit int) *echo.Echo {
	t.Helper()
	e := echo.New()
	NewHandler(svc, nil, collectLimit).RegisterRoutes(e)
	return e
}

func postJSON(e *echo.Echo, path, body, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("User-Agent", ua)
	req.RemoteAddr = "192.0.2.10:44321"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestGuideClickEndpoint(t *testing.T) {
	svc, store := newTestService(t)
	e := newTestServer(t, svc, 100)

	rec := postJSON(e, "/analytics/guide-click",
		`{"guide_id":"What-Is-A-Prop-Firm","guide_title":"What is a prop firm?","href":"/guides/what-is-a-prop-firm"}`,
		browserUA)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Errorf("body = %v, want ok", body)
	}

	raw, err := store.RawCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if raw != 1 {
		t.Errorf("raw count = %d, want 1", raw)
	}
}

func TestGuideClickIgnoresClientTimestamp(t *testing.T) {
	svc, store := newTestService(t)
	e := newTestServer(t, svc, 100)

	rec := postJSON(e, "/analytics/guide-click",
		`{"guide_id":"funding-models","ts_utc":"1999-01-01T00:00:00Z","timestamp":"1999-01-01T00:00:00Z"}`,
		browserUA)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	last, err := store.LastClickAt(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !last.Equal(testNow) {
		t.Errorf("timestamp = %v, want server-assigned %v", last, testNow)
	}
}

func TestGuideClickRejectsInvalidPayloads(t *testing.T) {
	svc, _ := newTestService(t)
	e := newTestServer(t, svc, 100)

	cases := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"missing id", `{"guide_title":"x"}`, http.StatusBadRequest, "missing_guide_id"},
		{"bad slug", `{"guide_id":"two words"}`, http.StatusBadRequest, "invalid_guide_id"},
		{"malformed json", `{"guide_id":`, http.StatusBadRequest, "invalid_json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(e, "/analytics/guide-click", tc.body, browserUA)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if body := decodeBody(t, rec); body["err"] != tc.wantErr {
				t.Errorf("err = %v, want %q", body["err"], tc.wantErr)
			}
		})
	}
}

func TestGuideClickRejectsNonJSONContentType(t *testing.T) {
	svc, _ := newTestService(t)
	e := newTestServer(t, svc, 100)

	req := httptest.NewRequest(http.MethodPost, "/analytics/guide-click",
		strings.NewReader(`guide_id=funding-models`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set("User-Agent", browserUA)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["err"] != "invalid_content_type" {
		t.Errorf("err = %v, want invalid_content_type", body["err"])
	}
}

func TestGuideClickFiltersBots(t *testing.T) {
	svc, store := newTestService(t)
	e := newTestServer(t, svc, 100)

	rec := postJSON(e, "/analytics/guide-click", `{"guide_id":"funding-models"}`,
		"Googlebot/2.1 (+http://www.google.com/bot.html)")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if body := decodeBody(t, rec); body["err"] != "bot_filtered" {
		t.Errorf("err = %v, want bot_filtered", body["err"])
	}

	raw, err := store.RawCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if raw != 0 {
		t.Errorf("raw count = %d, want 0", raw)
	}
}

func TestGuideClickRateLimited(t *testing.T) {
	svc, _ := newTestService(t)
	e := newTestServer(t, svc, 2)

	for i := 0; i < 2; i++ {
		if rec := postJSON(e, "/analytics/guide-click", `{"guide_id":"funding-models"}`, browserUA); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := postJSON(e, "/analytics/guide-click", `{"guide_id":"funding-models"}`, browserUA)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if body := decodeBody(t, rec); body["err"] != "rate_limited" {
		t.Errorf("err = %v, want rate_limited", body["err"])
	}
}

func TestGuideBackClickEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	e := newTestServer(t, svc, 100)

	rec := postJSON(e, "/analytics/guide-back-click", `{"guide_id":"back-context"}`, browserUA)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(e, "/analytics/guide-back-click", `{"guide_id":"funding-models"}`, browserUA)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["err"] != "invalid_back_type" {
		t.Errorf("err = %v, want invalid_back_type", body["err"])
	}
}

func TestTopGuidesEndpoint(t *testing.T) {
	svc, store := newTestService(t)
	e := newTestServer(t, svc, 100)

	insertAt(t, store, "what-is-a-prop-firm", testNow)
	insertAt(t, store, "what-is-a-prop-firm", testNow)
	insertAt(t, store, "funding-models", testNow)

	req := httptest.NewRequest(http.MethodGet, "/analytics/top-guides?days=9999&limit=abc", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp TopGuidesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Days != MaxTopDays {
		t.Errorf("days = %d, want clamped to %d", resp.Days, MaxTopDays)
	}
	if resp.Limit != DefaultTopLimit {
		t.Errorf("limit = %d, want default on unparsable input", resp.Limit)
	}
	if len(resp.Guides) != 2 || resp.Guides[0].GuideID != "what-is-a-prop-firm" || resp.Guides[0].Clicks != 2 {
		t.Errorf("guides = %v", resp.Guides)
	}
}

func TestTopGuidesEndpointEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	e := newTestServer(t, svc, 100)

	req := httptest.NewRequest(http.MethodGet, "/analytics/top-guides", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"guides":[]`) {
		t.Errorf("body = %s, want an empty array, not null", rec.Body.String())
	}
}

func TestRollupEndpointAuth(t *testing.T) {
	svc, store := newTestService(t)
	e := newTestServer(t, svc, 100)

	insertAt(t, store, "evaluation-rules", testNow.AddDate(0, 0, -1))

	rollup := func(secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/analytics/maintenance/rollup", nil)
		if secret != "" {
			req.Header.Set("X-Admin-Secret", secret)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := rollup(""); rec.Code != http.StatusForbidden {
		t.Errorf("missing secret: status = %d, want 403", rec.Code)
	}
	if rec := rollup("wrong"); rec.Code != http.StatusForbidden {
		t.Errorf("wrong secret: status = %d, want 403", rec.Code)
	}

	rec := rollup(testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["aggregated_guides"] != float64(1) {
		t.Errorf("aggregated_guides = %v, want 1", body["aggregated_guides"])
	}
	if body["purged_records"] != float64(0) {
		t.Errorf("purged_records = %v, want 0", body["purged_records"])
	}
}

func TestRollupEndpointUnconfigured(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, "", 90, 1)
	e := newTestServer(t, svc, 100)

	req := httptest.NewRequest(http.MethodPost, "/analytics/maintenance/rollup", nil)
	req.Header.Set("X-Admin-Secret", "anything")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "not_configured" {
		t.Errorf("error = %v, want not_configured", body["error"])
	}
}
