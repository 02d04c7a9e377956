package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/austindbirch/zekt_action/internal/delivery"
	"github.com/austindbirch/zekt_action/internal/health"
)

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs zektctl with args in a clean environment.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"ZEKT_API_URL", "ZEKT_TOKEN", "GITHUB_TOKEN", "ZEKT_JSON", "GITHUB_REPOSITORY"} {
		t.Setenv(k, "")
	}
	viper.Reset()
	resetFlags(rootCmd)
	cfgFile, apiURL, token = "", "", ""
	registerContext = delivery.GitHubContext{}

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCheckJQAvailable(t *testing.T) {
	_, err := exec.LookPath("jq")
	if got := checkJQAvailable(); got != (err == nil) {
		t.Errorf("checkJQAvailable() = %v, want %v", got, err == nil)
	}
}

func TestFormatWithJQ(t *testing.T) {
	tests := []struct {
		name     string
		jsonData []byte
		wantErr  bool
	}{
		{name: "valid json", jsonData: []byte(`{"key":"value","number":42}`)},
		{name: "invalid json", jsonData: []byte(`{"key":"value",}`), wantErr: true},
		{name: "json array", jsonData: []byte(`[1,2,3]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !checkJQAvailable() {
				t.Skip("jq not available, skipping test")
			}
			got, err := formatWithJQ(tt.jsonData)
			if (err != nil) != tt.wantErr {
				t.Errorf("formatWithJQ() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got == "" {
				t.Errorf("formatWithJQ() returned empty string for valid JSON")
			}
		})
	}
}

func TestYAMLToJSON(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    string
		wantErr bool
	}{
		{
			name: "mapping",
			yaml: "coverage: 87.5\nsuite:\n  name: unit\n  passed: true\n",
			want: `{"coverage":87.5,"suite":{"name":"unit","passed":true}}`,
		},
		{
			name: "sequence",
			yaml: "- a\n- b\n",
			want: `["a","b"]`,
		},
		{
			name:    "malformed",
			yaml:    "key: [unclosed",
			wantErr: true,
		},
		{
			name:    "non-string keys",
			yaml:    "1: a\n2: b\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := yamlToJSON([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("yamlToJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("yamlToJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLoadPayload(t *testing.T) {
	dir := t.TempDir()
	jsonFile := filepath.Join(dir, "p.json")
	yamlFile := filepath.Join(dir, "p.yml")
	os.WriteFile(jsonFile, []byte(`{"a":1}`), 0o600)
	os.WriteFile(yamlFile, []byte("a: 1\n"), 0o600)

	tests := []struct {
		name    string
		inline  string
		file    string
		want    string
		wantErr bool
	}{
		{name: "inline", inline: `{"x":true}`, want: `{"x":true}`},
		{name: "json file", file: jsonFile, want: `{"a":1}`},
		{name: "yaml file", file: yamlFile, want: `{"a":1}`},
		{name: "both", inline: "{}", file: jsonFile, wantErr: true},
		{name: "missing file", file: filepath.Join(dir, "nope.json"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadPayload(tt.inline, tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("loadPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintOutput(t *testing.T) {
	defer func() { outputJSON = false }()

	var buf bytes.Buffer
	outputJSON = false
	printOutput(&buf, map[string]string{"success": "true", "run_id": "1"})
	if got, want := buf.String(), "run_id: 1\nsuccess: true\n"; got != want {
		t.Errorf("human output = %q, want %q", got, want)
	}

	buf.Reset()
	outputJSON = true
	printOutput(&buf, map[string]string{"success": "true"})
	var m map[string]string
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil || m["success"] != "true" {
		t.Errorf("json output = %q (%v)", buf.String(), err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "zektctl version "+delivery.Version) {
		t.Errorf("output = %q", out)
	}

	out, _, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("version --json is not JSON: %v\n%s", err, out)
	}
	if v["userAgent"] != delivery.UserAgent() {
		t.Errorf("userAgent = %q", v["userAgent"])
	}
}

func TestValidateCommand(t *testing.T) {
	out, _, err := execute(t, "validate", "--payload", `{"ok":true}`)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if !strings.Contains(out, "valid: true") || !strings.Contains(out, "size: 11 Bytes") {
		t.Errorf("output = %q", out)
	}

	_, _, err = execute(t, "validate", "--payload", "{invalid}")
	if err == nil || !strings.Contains(err.Error(), "Invalid JSON payload") {
		t.Errorf("invalid payload error = %v", err)
	}

	big := strings.Repeat("a", 450*1024)
	out, stderr, err := execute(t, "validate", "--payload", `"`+big+`"`)
	if err != nil {
		t.Fatalf("warning band payload should pass: %v", err)
	}
	if !strings.Contains(out, "warning: Payload size is") {
		t.Errorf("output missing warning: %q", out)
	}
	if !strings.Contains(stderr, `"level":"warn"`) {
		t.Errorf("warning not logged: %q", stderr)
	}
}

func TestRegisterCommand(t *testing.T) {
	var calls int32
	var gotBody delivery.RegisterRunRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer cli-token" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"success":false,"error":"Invalid token"}`)
			return
		}
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"success":true,"message":"ok"}`)
	}))
	defer srv.Close()

	payloadFile := filepath.Join(t.TempDir(), "payload.yaml")
	os.WriteFile(payloadFile, []byte("suite: unit\npassed: 12\n"), 0o600)

	out, _, err := execute(t, "register",
		"--api-url", srv.URL,
		"--token", "cli-token",
		"--retry-delay", "1ms",
		"--run-id", "77",
		"--step-id", "test",
		"--payload-file", payloadFile,
		"--repository", "acme/widgets",
		"--json",
	)
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	var outputs map[string]string
	if err := json.Unmarshal([]byte(out), &outputs); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if outputs["success"] != "true" || outputs["run_id"] != "77" || outputs["step_id"] != "test" {
		t.Errorf("outputs = %v", outputs)
	}
	if gotBody.GitHubContext.Repository != "acme/widgets" {
		t.Errorf("repository = %q", gotBody.GitHubContext.Repository)
	}
	payload, _ := gotBody.Payload.(map[string]any)
	if payload["suite"] != "unit" || payload["passed"] != float64(12) {
		t.Errorf("payload = %#v", gotBody.Payload)
	}
}

func TestRegisterCommand_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"success":false,"error":"Repository not allowed"}`)
	}))
	defer srv.Close()

	out, _, err := execute(t, "register", "--api-url", srv.URL, "--token", "t", "--run-id", "1", "--payload", "{}")
	if err == nil || err.Error() != "Repository not allowed" {
		t.Fatalf("register error = %v", err)
	}
	if !strings.Contains(out, "success: false") || !strings.Contains(out, "error_message: Repository not allowed") {
		t.Errorf("output = %q", out)
	}
}

func TestRegisterCommand_ValidationBeforeNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	_, _, err := execute(t, "register", "--api-url", srv.URL, "--token", "t", "--payload", "{}")
	if err == nil || !strings.Contains(err.Error(), "zekt_run_id is required") {
		t.Errorf("error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestRegisterCommand_ConfigFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer from-file" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	cfg := filepath.Join(t.TempDir(), "zektctl.yaml")
	os.WriteFile(cfg, []byte("api_url: "+srv.URL+"\ntoken: from-file\n"), 0o600)

	if _, _, err := execute(t, "--config", cfg, "register", "--run-id", "5", "--payload", "[]"); err != nil {
		t.Fatalf("register with config file: %v", err)
	}
}

func TestHealthCommand(t *testing.T) {
	healthy := httptest.NewServer(health.HTTPHandler("1.0.0", nil))
	defer healthy.Close()

	out, _, err := execute(t, "health", "--api-url", healthy.URL+"/")
	if err != nil {
		t.Fatalf("health error: %v", err)
	}
	if !strings.Contains(out, "Service is healthy") {
		t.Errorf("output = %q", out)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	if _, _, err := execute(t, "health", "--api-url", down.URL); err == nil {
		t.Error("unhealthy API should return an error")
	}

	if _, _, err := execute(t, "health"); err == nil {
		t.Error("missing api url should return an error")
	}
}
