package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		probe              Probe
		expectedStatusCode int
		expectedStatus     Status
	}{
		{
			name:               "healthy without probe",
			probe:              nil,
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Version: "1.2.3"},
		},
		{
			name:               "healthy probe",
			probe:              func(context.Context) error { return nil },
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Version: "1.2.3"},
		},
		{
			name:               "failing probe",
			probe:              func(context.Context) error { return errors.New("upstream down") },
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "probe failed: upstream down", Version: "1.2.3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()

			HTTPHandler("1.2.3", tt.probe)(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var got Status
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if got != tt.expectedStatus {
				t.Errorf("status = %+v, want %+v", got, tt.expectedStatus)
			}
		})
	}
}

func TestHTTPHandler_ProbeDeadline(t *testing.T) {
	var deadline time.Time
	probe := func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	}

	start := time.Now()
	HTTPHandler("", probe)(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if deadline.IsZero() {
		t.Fatal("probe context has no deadline")
	}
	if d := deadline.Sub(start); d > 2*time.Second {
		t.Errorf("probe deadline %v too far out", d)
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantOK    bool
		wantError bool
	}{
		{
			name:    "healthy",
			handler: HTTPHandler("1.0.0", nil),
			wantOK:  true,
		},
		{
			name:      "unhealthy",
			handler:   HTTPHandler("1.0.0", func(context.Context) error { return errors.New("x") }),
			wantError: true,
		},
		{
			name: "non-json body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte("ok"))
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			st, err := Check(context.Background(), srv.Client(), srv.URL)
			if (err != nil) != tt.wantError {
				t.Fatalf("Check() error = %v, wantError %v", err, tt.wantError)
			}
			if st.OK != tt.wantOK {
				t.Errorf("Check() OK = %v, want %v", st.OK, tt.wantOK)
			}
		})
	}
}

func TestCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Check(context.Background(), nil, url)
	if err == nil || !strings.Contains(err.Error(), "health request") {
		t.Errorf("Check() error = %v, want health request failure", err)
	}
}
