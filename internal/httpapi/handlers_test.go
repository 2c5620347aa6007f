package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/confluence-sentinel/internal/alerts"
	"github.com/riftline/confluence-sentinel/internal/domain"
	"github.com/riftline/confluence-sentinel/internal/persistence"
)

// stubRepo is a minimal persistence.AlertRepo for exercising handler
// routing and status codes without a database.
type stubRepo struct {
	alerts    []domain.Alert
	stats     persistence.Stats
	listErr   error
	statsErr  error
	healthErr error
}

func (s *stubRepo) Insert(context.Context, domain.Alert) error  { return nil }
func (s *stubRepo) Exists(context.Context, string) (bool, error) { return false, nil }

func (s *stubRepo) ListAll(context.Context, persistence.TimeRange) ([]domain.Alert, error) {
	return s.alerts, s.listErr
}

func (s *stubRepo) ListBySymbol(_ context.Context, symbol string, _ persistence.TimeRange) ([]domain.Alert, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.Symbol == symbol {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubRepo) ListBySeverity(_ context.Context, severity domain.Severity, _ persistence.TimeRange) ([]domain.Alert, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.Severity == severity {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubRepo) Stats(context.Context, persistence.TimeRange) (persistence.Stats, error) {
	return s.stats, s.statsErr
}

func (s *stubRepo) Prune(context.Context, time.Time) (int64, error) { return 3, nil }
func (s *stubRepo) Health(context.Context) error                    { return s.healthErr }
func (s *stubRepo) Close() error                                    { return nil }

func newTestServer(repo persistence.AlertRepo) *Server {
	return New(DefaultConfig(0, "https://dashboard.example"), repo, nil)
}

func fullAlert() domain.Alert {
	return domain.Alert{
		ID:              "BTCUSDT-SHORT_SQUEEZE-1700000000000",
		Symbol:          "BTCUSDT",
		SetupType:       domain.ShortSqueeze,
		Severity:        domain.SeverityHigh,
		Title:           "Short squeeze forming",
		Description:     "Funding elevated with rising OI and taker buy pressure",
		Signals:         []string{"funding_elevated", "oi_rising", "taker_buy_pressure"},
		ConfluenceScore: 82,
		Timestamp:       1700000000000,
		Payload: domain.AlertPayload{
			Funding:           0.0006,
			FundingAPR:        65.7,
			FundingPercentile: 92,
			OIChange8hr:       12.5,
			VDelta1hr:         3.2,
			PriceChange:       4.1,
			Volume24h:         120_000_000,
		},
	}
}

func TestHandleIndex(t *testing.T) {
	srv := newTestServer(&stubRepo{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "confluence-sentinel", body["service"])
	assert.Equal(t, serviceVersion, body["version"])
	assert.NotEmpty(t, body["endpoints"])
}

func TestHandleHealth_HealthyReturnsOKWithTimestamp(t *testing.T) {
	srv := newTestServer(&stubRepo{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHandleHealth_UnhealthyReturns503(t *testing.T) {
	srv := newTestServer(&stubRepo{healthErr: errors.New("db down")})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleAlerts_ListsAllWithDocumentedFieldNames(t *testing.T) {
	alert := fullAlert()
	srv := newTestServer(&stubRepo{alerts: []domain.Alert{alert}})
	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"count": 1,
		"alerts": [{
			"id": "BTCUSDT-SHORT_SQUEEZE-1700000000000",
			"symbol": "BTCUSDT",
			"setupType": "SHORT_SQUEEZE",
			"severity": "HIGH",
			"title": "Short squeeze forming",
			"description": "Funding elevated with rising OI and taker buy pressure",
			"signals": ["funding_elevated", "oi_rising", "taker_buy_pressure"],
			"confluenceScore": 82,
			"timestamp": 1700000000000,
			"payload": {
				"funding": 0.0006,
				"fundingAPR": 65.7,
				"fundingPercentile": 92,
				"oiChange8hr": 12.5,
				"vdelta1hr": 3.2,
				"priceChange": 4.1,
				"volume24h": 120000000
			}
		}]
	}`, rec.Body.String())
}

func TestHandleAlertsBySymbol_UnknownSymbolReturnsEmptyList(t *testing.T) {
	srv := newTestServer(&stubRepo{})
	req := httptest.NewRequest(http.MethodGet, "/api/alerts/NOSUCHUSDT", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"alerts":[],"count":0}`, rec.Body.String())
}

func TestHandleAlerts_RepoErrorReturns500(t *testing.T) {
	srv := newTestServer(&stubRepo{listErr: errors.New("query failed")})
	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleStats_ReturnsDocumentedFieldNames(t *testing.T) {
	stats := persistence.Stats{
		Total: 5,
		BySeverity: map[domain.Severity]int64{
			domain.SeverityCritical: 2,
			domain.SeverityHigh:     3,
		},
		BySetupType: map[domain.SetupType]int64{
			domain.ShortSqueeze: 5,
		},
	}
	srv := newTestServer(&stubRepo{stats: stats})
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"totalAlerts": 5,
		"bySeverity": {"CRITICAL": 2, "HIGH": 3},
		"bySetupType": {"SHORT_SQUEEZE": 5}
	}`, rec.Body.String())
}

func TestHandleCleanup_UnavailableWithoutEmitter(t *testing.T) {
	srv := newTestServer(&stubRepo{})
	req := httptest.NewRequest(http.MethodPost, "/api/cleanup", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleCleanup_ReturnsDocumentedFieldNames(t *testing.T) {
	repo := &stubRepo{}
	emitter := alerts.New(repo, time.Hour, 48*time.Hour, nil)
	srv := New(DefaultConfig(0, "https://dashboard.example"), repo, emitter)

	req := httptest.NewRequest(http.MethodPost, "/api/cleanup", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"cleanup complete","deletedCount":3}`, rec.Body.String())
}

func TestNotFoundHandler(t *testing.T) {
	srv := newTestServer(&stubRepo{})
	req := httptest.NewRequest(http.MethodGet, "/no/such/route", nil)
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSMiddleware_EchoesOrigin(t *testing.T) {
	srv := newTestServer(&stubRepo{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://untrusted.example")
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, "https://untrusted.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
