package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/domain"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/orders"
	"github.com/vladislavdragonenkov/orders-kafka/internal/service/rest"
	"github.com/vladislavdragonenkov/orders-kafka/internal/storage/memory"
)

type fakeOrdersAPI struct {
	createFn func(context.Context, orders.CreateOrderRequest) (orders.OrderView, int, error)
	statusFn func(context.Context, uuid.UUID) (orders.StatusView, int, error)
	updateFn func(context.Context, uuid.UUID, string, string) (int, error)
}

func (f *fakeOrdersAPI) CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (orders.OrderView, int, error) {
	if f.createFn == nil {
		return orders.OrderView{}, codeTransport, errors.New("unexpected CreateOrder call")
	}
	return f.createFn(ctx, req)
}

func (f *fakeOrdersAPI) GetOrderStatus(ctx context.Context, id uuid.UUID) (orders.StatusView, int, error) {
	if f.statusFn == nil {
		return orders.StatusView{}, codeTransport, errors.New("unexpected GetOrderStatus call")
	}
	return f.statusFn(ctx, id)
}

func (f *fakeOrdersAPI) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status, notes string) (int, error) {
	if f.updateFn == nil {
		return codeTransport, errors.New("unexpected UpdateOrderStatus call")
	}
	return f.updateFn(ctx, id, status, notes)
}

func newOrdersAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	entry := logger.WithField("component", "loadtest-test")

	svc := orders.NewService(memory.NewOrderRepository(), orders.WithLogger(entry))
	server := httptest.NewServer(rest.NewRouter(rest.NewHandler(svc, entry), nil))
	t.Cleanup(server.Close)
	return server
}

func TestParseMode(t *testing.T) {
	for _, mode := range []loadMode{modeCreate, modeCreateTrack, modeCreateShip} {
		got, err := parseMode(" " + string(mode) + " ")
		if err != nil || got != mode {
			t.Fatalf("parseMode(%q) = %q, %v", mode, got, err)
		}
	}
	if _, err := parseMode("create-pay"); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}
	if cfg.baseURL != "http://localhost:8080" || cfg.total != 400 || cfg.totalSet {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.unitPrice != domain.Money(1000) {
		t.Fatalf("unexpected default price: %s", cfg.unitPrice)
	}

	cfg, err = parseConfig([]string{
		"-url=http://orders:8080/", "-total=5", "-duration=1m", "-mode=create-ship",
		"-unit-price=12.50", "-concurrency=3", "-timeout=2s",
	})
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.baseURL != "http://orders:8080" || !cfg.totalSet || cfg.duration != time.Minute {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.mode != modeCreateShip || cfg.unitPrice != domain.Money(1250) || cfg.concurrency != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad duration", []string{"-duration=soon"}, "parse duration"},
		{"negative duration", []string{"-duration=-1s"}, "duration must be >= 0"},
		{"zero total", []string{"-total=0"}, "total must be > 0"},
		{"zero total with duration", []string{"-total=0", "-duration=1s"}, "explicitly set"},
		{"zero concurrency", []string{"-concurrency=0"}, "concurrency must be > 0"},
		{"zero timeout", []string{"-timeout=0s"}, "timeout must be > 0"},
		{"bad mode", []string{"-mode=burst"}, "unsupported mode"},
		{"bad price", []string{"-unit-price=1.234"}, "unit-price"},
		{"zero price", []string{"-unit-price=0"}, "unit-price must be > 0"},
		{"empty url", []string{"-url= "}, "url is required"},
		{"empty product", []string{"-product-id= "}, "product-id is required"},
		{"empty customer", []string{"-customer-tag="}, "customer-tag is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	jobs := make(chan int, 10)
	dispatchJobs(jobs, config{total: 3})

	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	if len(got) != 3 || got[2] != 2 {
		t.Fatalf("unexpected jobs: %v", got)
	}

	jobs = make(chan int, 10)
	dispatchJobs(jobs, config{total: 4, totalSet: true, duration: time.Minute})
	count := 0
	for range jobs {
		count++
	}
	if count != 4 {
		t.Fatalf("expected total to cap duration run, got %d", count)
	}

	jobs = make(chan int)
	done := make(chan struct{})
	go func() {
		dispatchJobs(jobs, config{duration: 30 * time.Millisecond})
		close(done)
	}()
	go func() {
		for range jobs {
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("duration run did not stop")
	}
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector()
	col.record("CreateOrder", 10*time.Millisecond, http.StatusCreated)
	col.record("CreateOrder", 30*time.Millisecond, http.StatusBadRequest)
	col.record("CreateOrder", 20*time.Millisecond, codeTransport)
	col.record("scenario", 40*time.Millisecond, http.StatusOK)
	col.record("scenario", 50*time.Millisecond, http.StatusInternalServerError)

	result := col.buildReport(time.Now(), 2*time.Second)
	if result.TotalScenarios != 2 || result.SuccessScenarios != 1 || result.FailedScenarios != 1 {
		t.Fatalf("unexpected scenario totals: %+v", result)
	}
	if result.RPS != 1 {
		t.Fatalf("unexpected rps: %f", result.RPS)
	}

	create := result.Endpoints["CreateOrder"]
	if create.Calls != 3 || create.Success != 1 || create.Failed != 2 {
		t.Fatalf("unexpected endpoint stats: %+v", create)
	}
	if create.Codes["201"] != 1 || create.Codes["400"] != 1 || create.Codes["transport_error"] != 1 {
		t.Fatalf("unexpected codes: %v", create.Codes)
	}
	if create.LatencyMs.Min != 10 || create.LatencyMs.Max != 30 || create.LatencyMs.P50 != 20 {
		t.Fatalf("unexpected latency summary: %+v", create.LatencyMs)
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := percentile([]float64{1, 2, 3, 4}, 50); got != 2.5 {
		t.Fatalf("unexpected p50: %f", got)
	}
	if got := percentile([]float64{7}, 99); got != 7 {
		t.Fatalf("unexpected single-value percentile: %f", got)
	}
	if got := percentile(nil, 95); got != 0 {
		t.Fatalf("unexpected empty percentile: %f", got)
	}
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("unexpected ratio: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}
	if got := buildLatencySummary(nil); got != (latencySummary{}) {
		t.Fatalf("unexpected empty summary: %+v", got)
	}
	if got := runTarget(config{total: 5}); got != "count:5" {
		t.Fatalf("unexpected target: %s", got)
	}
	if got := runTarget(config{duration: time.Minute, total: 5, totalSet: true}); got != "duration:1m0s,max-total:5" {
		t.Fatalf("unexpected target: %s", got)
	}
	if got := runTarget(config{duration: time.Minute}); got != "duration:1m0s" {
		t.Fatalf("unexpected target: %s", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := writeJSONReport(path, report{TotalScenarios: 3}); err != nil {
		t.Fatalf("writeJSONReport failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 3 {
		t.Fatalf("unexpected report: %+v", decoded)
	}

	for _, bad := range []string{".", "..", "../escape.json"} {
		if err := writeJSONReport(bad, report{}); err == nil {
			t.Fatalf("expected error for path %q", bad)
		}
	}
}

func TestRunScenario_FailurePaths(t *testing.T) {
	cfg := config{mode: modeCreateShip, timeout: time.Second, unitPrice: domain.Money(100), productID: "sku", customerTag: "t"}

	col := newCollector()
	api := &fakeOrdersAPI{
		createFn: func(context.Context, orders.CreateOrderRequest) (orders.OrderView, int, error) {
			return orders.OrderView{}, http.StatusBadRequest, errors.New("bad request")
		},
	}
	if err := runScenario(api, cfg, 0, "run", col); err == nil {
		t.Fatal("expected create failure")
	}
	if got := col.buildReport(time.Now(), time.Second).Endpoints["scenario"].Codes["400"]; got != 1 {
		t.Fatalf("scenario must carry failing code, got %d", got)
	}

	col = newCollector()
	api = &fakeOrdersAPI{
		createFn: func(context.Context, orders.CreateOrderRequest) (orders.OrderView, int, error) {
			return orders.OrderView{}, http.StatusCreated, nil
		},
	}
	if err := runScenario(api, cfg, 0, "run", col); err == nil || !strings.Contains(err.Error(), "empty order id") {
		t.Fatalf("expected empty id error, got %v", err)
	}

	col = newCollector()
	api = &fakeOrdersAPI{
		createFn: func(context.Context, orders.CreateOrderRequest) (orders.OrderView, int, error) {
			return orders.OrderView{ID: uuid.New()}, http.StatusCreated, nil
		},
		updateFn: func(_ context.Context, _ uuid.UUID, status, _ string) (int, error) {
			if status != domain.OrderStatusShipped.String() {
				t.Errorf("unexpected status %q", status)
			}
			return http.StatusNotFound, errors.New("not found")
		},
	}
	if err := runScenario(api, cfg, 0, "run", col); err == nil {
		t.Fatal("expected update failure")
	}
	if _, called := col.buildReport(time.Now(), time.Second).Endpoints["GetOrderStatus"]; called {
		t.Fatal("status must not be fetched after failed update")
	}
}

func TestRunLoad_AgainstOrdersAPI(t *testing.T) {
	server := newOrdersAPIServer(t)
	client := &apiClient{baseURL: server.URL, http: server.Client()}

	for _, mode := range []loadMode{modeCreate, modeCreateTrack, modeCreateShip} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := config{
				baseURL:     server.URL,
				total:       12,
				concurrency: 3,
				timeout:     2 * time.Second,
				mode:        mode,
				unitPrice:   domain.Money(999),
				productID:   "SKU-LOAD",
				customerTag: "load",
			}

			result := runLoad(client, cfg)
			if result.TotalScenarios != 12 || result.FailedScenarios != 0 {
				t.Fatalf("unexpected result: %+v", result)
			}
			if result.Endpoints["CreateOrder"].Codes["201"] != 12 {
				t.Fatalf("unexpected create codes: %v", result.Endpoints["CreateOrder"].Codes)
			}
			_, tracked := result.Endpoints["GetOrderStatus"]
			if tracked != (mode != modeCreate) {
				t.Fatalf("mode %s: unexpected status tracking %v", mode, tracked)
			}
		})
	}
}

func TestAPIClient_UnexpectedStatus(t *testing.T) {
	server := newOrdersAPIServer(t)
	client := &apiClient{baseURL: server.URL, http: server.Client()}

	_, code, err := client.GetOrderStatus(context.Background(), uuid.New())
	if err == nil || code != http.StatusNotFound {
		t.Fatalf("expected 404 error, got %d %v", code, err)
	}

	code, err = client.UpdateOrderStatus(context.Background(), uuid.New(), "Teleported", "")
	if err == nil || code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %d %v", code, err)
	}

	unreachable := &apiClient{baseURL: "http://127.0.0.1:1", http: &http.Client{Timeout: time.Second}}
	if _, code, err := unreachable.CreateOrder(context.Background(), orders.CreateOrderRequest{}); err == nil || code != codeTransport {
		t.Fatalf("expected transport error, got %d %v", code, err)
	}
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report{
		TotalScenarios: 2,
		Endpoints: map[string]endpointReport{
			"scenario":       {Calls: 2},
			"GetOrderStatus": {Calls: 2, Success: 2},
			"CreateOrder":    {Calls: 2, Success: 1, Failed: 1, ErrorRate: 0.5},
		},
	}, config{mode: modeCreateTrack, total: 2})

	got := out.String()
	if !strings.Contains(got, "mode=create-track run=count:2 total=2") {
		t.Fatalf("unexpected header: %q", got)
	}
	create := strings.Index(got, "CreateOrder:")
	status := strings.Index(got, "GetOrderStatus:")
	if create < 0 || status < 0 || create > status {
		t.Fatalf("endpoints must be sorted: %q", got)
	}
	if strings.Contains(got, "scenario:") {
		t.Fatalf("scenario must not be listed as endpoint: %q", got)
	}
}
