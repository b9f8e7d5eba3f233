package chi

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 2 * time.Second

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// runChecks returns the per-dependency result and the first failure in name order
func runChecks(ctx context.Context, checks map[string]Check) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(checks))
	var first error
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			results[name] = "error"
			if first == nil {
				first = err
			}
			continue
		}
		results[name] = "ok"
	}
	return results, first
}

func health(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := runChecks(r.Context(), checks)
		resp := healthResponse{Status: "healthy", Timestamp: time.Now().UTC()}
		if len(results) > 0 {
			resp.Checks = results
		}
		if err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func ready(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := runChecks(r.Context(), checks); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	}
}
