package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	if len(body) == 0 {
		t.Error("Expected non-empty metrics response")
	}

	// Gauges always appear; counters/histograms only after first observation.
	for _, name := range []string{
		"gameswap_active_websocket_clients",
		"gameswap_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestMiddleware_RecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ping failed: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "gameswap_http_requests_total") {
		t.Error("expected request counter after an observed request")
	}
}

func TestMiddleware_LabelsRequestsByStatusBucket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/products/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/products/missing", nil))

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var fam *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "gameswap_http_requests_total" {
			fam = f
			break
		}
	}
	if fam == nil {
		t.Fatal("gameswap_http_requests_total not gathered")
	}

	found := false
	for _, m := range fam.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["path"] == "/v1/products/:id" && labels["status"] == "4xx" {
			found = true
			if labels["method"] != "GET" {
				t.Errorf("method label = %s, want GET", labels["method"])
			}
			if m.GetCounter().GetValue() < 1 {
				t.Errorf("counter = %v, want >= 1", m.GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Error("expected a series for route pattern /v1/products/:id with status 4xx")
	}
}

func TestSettlementsCounterOutcomes(t *testing.T) {
	SettlementsTotal.WithLabelValues("created").Inc()
	SettlementsTotal.WithLabelValues("replayed").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	outcomes := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "gameswap_settlements_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" {
					outcomes[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	for _, want := range []string{"created", "replayed"} {
		if outcomes[want] < 1 {
			t.Errorf("outcome %q = %v, want >= 1", want, outcomes[want])
		}
	}
}
