package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"`
}

// Probe reports whether a dependency is usable. Nil means healthy.
type Probe func(ctx context.Context) error

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(version string, probe Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Version: version}
		code := http.StatusOK

		if probe != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			if err := probe(ctx); err != nil {
				st.OK = false
				st.Message = fmt.Sprintf("probe failed: %v", err)
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}

// Check fetches {baseURL}/healthz and decodes the reported Status. A non-2xx
// answer is an error even when the body decodes.
func Check(ctx context.Context, client *http.Client, baseURL string) (Status, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return Status{}, fmt.Errorf("build health request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Status{}, fmt.Errorf("read health response: %w", err)
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		st = Status{OK: false, Message: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return st, fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return st, nil
}
