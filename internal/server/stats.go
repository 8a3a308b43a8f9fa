package server

import (
	"net/http"
	"strings"
	"time"

	"mealgate/webclient/internal/httputil"

	dto "github.com/prometheus/client_model/go"
)

// handleAdminStats aggregates metrics into a JSON summary for the admin dashboard
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	mfs, err := s.gatherer.Gather()
	if err != nil {
		httputil.GetLogger(r.Context()).Error().Err(err).Msg("gather metrics")
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics_error"})
		return
	}

	stats := map[string]map[string]any{
		"guard":      {},
		"csrf":       {},
		"validation": {},
		"platform":   {},
		"system":     {},
	}

	findMF := func(name string) *dto.MetricFamily {
		for _, mf := range mfs {
			if mf.GetName() == name {
				return mf
			}
		}
		return nil
	}
	// byLabel sums a counter family per value of label into dst.
	byLabel := func(name, label string, dst map[string]any) {
		mf := findMF(name)
		if mf == nil {
			return
		}
		for _, m := range mf.Metric {
			for _, l := range m.Label {
				if l.GetName() == label {
					prev, _ := dst[l.GetValue()].(float64)
					dst[l.GetValue()] = prev + m.Counter.GetValue()
				}
			}
		}
	}

	byLabel("mealgate_guard_decision_total", "outcome", stats["guard"])
	if mf := findMF("mealgate_guard_duration_seconds"); mf != nil && len(mf.Metric) > 0 {
		h := mf.Metric[0].GetHistogram()
		stats["guard"]["evaluations"] = h.GetSampleCount()
		if n := h.GetSampleCount(); n > 0 {
			stats["guard"]["avg_ms"] = h.GetSampleSum() / float64(n) * 1000
		}
	}

	if mf := findMF("mealgate_csrf_tokens_issued_total"); mf != nil && len(mf.Metric) > 0 {
		stats["csrf"]["issued"] = mf.Metric[0].Counter.GetValue()
	}
	failures := map[string]any{}
	byLabel("mealgate_csrf_failures_total", "reason", failures)
	stats["csrf"]["failures"] = failures

	byLabel("mealgate_validation_failures_total", "kind", stats["validation"])

	if mf := findMF("mealgate_platform_request_duration_seconds"); mf != nil {
		var total uint64
		errs := 0.0
		for _, m := range mf.Metric {
			n := m.GetHistogram().GetSampleCount()
			total += n
			for _, l := range m.Label {
				if l.GetName() == "status" && (l.GetValue() == "error" || strings.HasPrefix(l.GetValue(), "5")) {
					errs += float64(n)
				}
			}
		}
		stats["platform"]["requests"] = total
		stats["platform"]["errors"] = errs
	}

	stats["platform"]["circuit"] = s.app.Breaker.State().String()

	if mf := findMF("go_goroutines"); mf != nil && len(mf.Metric) > 0 {
		stats["system"]["goroutines"] = mf.Metric[0].Gauge.GetValue()
	}
	stats["system"]["uptime_sec"] = time.Since(s.started).Seconds()
	stats["system"]["version"] = Version

	httputil.WriteJSON(w, http.StatusOK, stats)
}
