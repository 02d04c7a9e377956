// Package validate checks CI step inputs before anything leaves the runner.
// Every failure is an *Error and is never retried.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/austindbirch/zekt_action/internal/config"
	"github.com/austindbirch/zekt_action/internal/logging"
)

// Check names the validation stage that rejected an input.
type Check string

const (
	CheckFields    Check = "fields"
	CheckSize      Check = "size"
	CheckStructure Check = "structure"
)

// Error is an input validation failure.
type Error struct {
	Field string
	Check Check
	Msg   string
	Err   error
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Err }

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

// CheckOf returns the failing check of a validation error, or "".
func CheckOf(err error) Check {
	var v *Error
	if errors.As(err, &v) {
		return v.Check
	}
	return ""
}

// Inputs are the caller-supplied step parameters.
type Inputs struct {
	RunID    int64
	StepID   string
	Payload  string
	Token    string
	Endpoint string // explicit endpoint override; empty means use configuration
}

// Limits bounds the payload size.
type Limits struct {
	MaxBytes  int
	WarnBytes int
}

// DefaultLimits returns the 512 KiB ceiling with its 80% warning band.
func DefaultLimits() Limits {
	return Limits{MaxBytes: config.MaxPayloadBytes, WarnBytes: config.WarnPayloadBytes}
}

// LimitsFrom takes the limits of a loaded configuration.
func LimitsFrom(cfg config.Config) Limits {
	return Limits{MaxBytes: cfg.MaxPayloadBytes, WarnBytes: cfg.WarnPayloadBytes}
}

// Result describes a payload that passed the size check.
type Result struct {
	Valid     bool
	SizeBytes int
	Warning   string
}

// Fields checks that every required input is present and well formed.
func Fields(in Inputs) error {
	if in.RunID <= 0 {
		return &Error{
			Field: "zekt_run_id",
			Check: CheckFields,
			Msg:   "zekt_run_id is required and must be a positive number. Use: ${{ github.run_id }}",
		}
	}
	if strings.TrimSpace(in.Payload) == "" {
		return &Error{
			Field: "zekt_payload",
			Check: CheckFields,
			Msg:   "zekt_payload is required and cannot be empty. Provide a valid JSON object as a string.",
		}
	}
	if strings.TrimSpace(in.Token) == "" {
		return &Error{
			Field: "github_token",
			Check: CheckFields,
			Msg:   "github_token is required. Use: ${{ secrets.GITHUB_TOKEN }}",
		}
	}
	if in.Endpoint != "" {
		return Endpoint(in.Endpoint)
	}
	return nil
}

// Endpoint checks an explicitly supplied API address.
func Endpoint(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return &Error{
			Field: "zekt_api_url",
			Check: CheckFields,
			Msg:   "zekt_api_url must be a valid HTTP/HTTPS URL",
		}
	}
	return nil
}

// PayloadSize enforces the byte ceiling on the UTF-8 payload. Payloads in
// the warning band pass, and the warning is also sent to r.
func PayloadSize(payload string, limits Limits, r logging.Reporter) (Result, error) {
	size := len(payload)

	if size > limits.MaxBytes {
		return Result{SizeBytes: size}, &Error{
			Field: "zekt_payload",
			Check: CheckSize,
			Msg: fmt.Sprintf(
				"Payload size (%s, %s bytes) exceeds maximum allowed size (%s). Maximum: %s (%s bytes)",
				FormatBytes(int64(size)), groupDigits(size),
				FormatBytes(int64(limits.MaxBytes)),
				FormatBytes(int64(limits.MaxBytes)), groupDigits(limits.MaxBytes),
			),
		}
	}

	if size > limits.WarnBytes {
		pct := float64(size) / float64(limits.MaxBytes) * 100
		warning := fmt.Sprintf(
			"Payload size is %s (%.1f%% of maximum). Consider reducing payload size to avoid hitting the %s limit.",
			FormatBytes(int64(size)), pct, FormatBytes(int64(limits.MaxBytes)),
		)
		if r != nil {
			r.Warnf("%s", warning)
		}
		return Result{Valid: true, SizeBytes: size, Warning: warning}, nil
	}

	return Result{Valid: true, SizeBytes: size}, nil
}

// JSON parses the payload into an arbitrary JSON value. Numbers are kept as
// json.Number so they are re-serialized exactly.
func JSON(payload string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var v any
	err := dec.Decode(&v)
	if err == nil {
		// exactly one value is allowed
		var extra json.RawMessage
		if derr := dec.Decode(&extra); derr != io.EOF {
			if derr == nil {
				derr = errors.New("invalid character after top-level value")
			}
			err = derr
		}
	}
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = errors.New("unexpected end of JSON input")
		}
		return nil, &Error{
			Field: "zekt_payload",
			Check: CheckStructure,
			Msg:   fmt.Sprintf("Invalid JSON payload: %v. Please ensure zekt_payload contains valid JSON.", err),
			Err:   err,
		}
	}
	return v, nil
}
