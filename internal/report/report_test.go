package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"PerpSim/internal/observability"
	"PerpSim/internal/sim"
)

const scenario = `{
  "market": "BTC-USDT-PERP",
  "accounts": [
    {"user_id": "11111111-1111-1111-1111-111111111111", "collateral": "10000"},
    {"user_id": "22222222-2222-2222-2222-222222222222", "collateral": "100000"}
  ],
  "events": [
    {"type": "order", "timestamp_us": 100, "user_id": "22222222-2222-2222-2222-222222222222",
     "side": "sell", "quantity": "1", "price": "59500", "leverage": 5},
    {"type": "order", "timestamp_us": 101, "user_id": "11111111-1111-1111-1111-111111111111",
     "side": "buy", "quantity": "1", "price": "59500", "leverage": 5},
    {"type": "price", "timestamp_us": 200, "mark_price": "54000"}
  ]
}`

func buildReport(t *testing.T) *Report {
	t.Helper()
	s, err := sim.ParseScenario([]byte(scenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	c, err := sim.BuildCore(s, nil, observability.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("BuildCore: %v", err)
	}
	if _, err := sim.NewDriver(c).Run(s.Events); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r, err := Build(s.Market, c)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return r
}

func TestReportFormatsDecimalStrings(t *testing.T) {
	r := buildReport(t)

	if r.Market != "BTC-USDT-PERP" || r.Sequence != 3 {
		t.Errorf("market=%q sequence=%d", r.Market, r.Sequence)
	}
	if r.MarkPrice != "54000.00" {
		t.Errorf("mark price = %q, want \"54000.00\"", r.MarkPrice)
	}
	if len(r.StateHash) != 64 {
		t.Errorf("state hash = %q, want 64 hex chars", r.StateHash)
	}

	if len(r.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(r.Fills))
	}
	if r.Fills[0].Price != "59500.00" || r.Fills[0].Quantity != "1.000000" {
		t.Errorf("fill = %+v", r.Fills[0])
	}

	if len(r.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(r.Positions))
	}
	var long *PositionReport
	for i := range r.Positions {
		if r.Positions[i].Side == "long" {
			long = &r.Positions[i]
		}
	}
	if long == nil {
		t.Fatal("no long position in report")
	}
	if long.UnrealizedPnL != "-5500.000000" {
		t.Errorf("long upnl = %q, want \"-5500.000000\"", long.UnrealizedPnL)
	}
	if long.Equity != "4500.000000" {
		t.Errorf("long equity = %q, want \"4500.000000\"", long.Equity)
	}
	if long.MaintenanceMargin != "2700.000000" {
		t.Errorf("long mm = %q, want \"2700.000000\"", long.MaintenanceMargin)
	}

	// Collateral untouched by opening: user accounts show the seeds.
	var seen bool
	for _, acct := range r.Accounts {
		if acct.Account == "user:11111111-1111-1111-1111-111111111111:collateral:USDT" {
			seen = true
			if acct.Balance != "10000.000000" {
				t.Errorf("collateral = %q", acct.Balance)
			}
		}
	}
	if !seen {
		t.Error("seeded collateral account missing from report")
	}
}

func TestAPIEnvelope(t *testing.T) {
	api := NewAPI(buildReport(t), observability.NewMetrics(prometheus.NewRegistry()))
	router := api.Router()

	get := func(path string) (*httptest.ResponseRecorder, Response) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		var resp Response
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
		return w, resp
	}

	w, resp := get("/api/v1/report")
	if w.Code != http.StatusOK || !resp.Success {
		t.Errorf("report: code=%d success=%v", w.Code, resp.Success)
	}

	w, resp = get("/api/v1/positions/11111111-1111-1111-1111-111111111111")
	if w.Code != http.StatusOK || !resp.Success {
		t.Errorf("position: code=%d success=%v", w.Code, resp.Success)
	}

	w, resp = get("/api/v1/positions/33333333-3333-3333-3333-333333333333")
	if w.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("missing position: code=%d error=%+v", w.Code, resp.Error)
	}

	w, resp = get("/api/v1/positions/not-a-uuid")
	if w.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("bad uuid: code=%d error=%+v", w.Code, resp.Error)
	}
}
