// Package action sequences a single registration run: read inputs, validate
// them, build the request, deliver it and report the outcome to the CI host.
package action

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/zekt_action/internal/config"
	"github.com/austindbirch/zekt_action/internal/delivery"
	"github.com/austindbirch/zekt_action/internal/logging"
	"github.com/austindbirch/zekt_action/internal/metrics"
	"github.com/austindbirch/zekt_action/internal/redact"
	"github.com/austindbirch/zekt_action/internal/tracing"
	"github.com/austindbirch/zekt_action/internal/validate"
)

// Input and output names of the action contract.
const (
	InputRunID   = "zekt_run_id"
	InputStepID  = "zekt_step_id"
	InputPayload = "zekt_payload"
	InputToken   = "github_token"
	InputAPIURL  = "zekt_api_url"

	OutputSuccess      = "success"
	OutputRunID        = "run_id"
	OutputStepID       = "step_id"
	OutputErrorMessage = "error_message"

	DefaultStepID = "default"
)

// Host is the CI environment the run executes in.
type Host interface {
	logging.Reporter
	Input(name string) string
	SetOutput(name, value string) error
	Context() delivery.GitHubContext
	SetFailed(msg string)
}

// Masker is implemented by hosts that can hide a secret from their logs.
type Masker interface {
	Mask(secret string)
}

// Sender delivers a built request.
type Sender interface {
	Send(ctx context.Context, endpoint string, req delivery.RegisterRunRequest, token string) (delivery.Response, error)
}

// Runner runs the validated-send pipeline once per call to Run.
type Runner struct {
	cfg    config.Config
	sender Sender
	limits validate.Limits
}

func New(cfg config.Config, sender Sender) *Runner {
	return &Runner{
		cfg:    cfg,
		sender: sender,
		limits: validate.LimitsFrom(cfg),
	}
}

type inputs struct {
	runID    int64
	stepID   string
	payload  string
	token    string
	endpoint string
}

func readInputs(h Host) inputs {
	in := inputs{
		stepID:   h.Input(InputStepID),
		payload:  h.Input(InputPayload),
		token:    h.Input(InputToken),
		endpoint: h.Input(InputAPIURL),
	}
	if in.stepID == "" {
		in.stepID = DefaultStepID
	}
	// unparseable ids stay 0 and fail field validation
	if id, err := strconv.ParseInt(strings.TrimSpace(h.Input(InputRunID)), 10, 64); err == nil {
		in.runID = id
	}
	return in
}

// Run executes the pipeline against h. Every failure is redacted, written to
// the outputs with success=false, signalled through SetFailed and returned.
func (r *Runner) Run(ctx context.Context, h Host) error {
	ctx, span := tracing.StartSpan(ctx, "zekt.run")
	defer span.End()

	in := readInputs(h)
	if m, ok := h.(Masker); ok && in.token != "" {
		m.Mask(in.token)
	}
	span.SetAttributes(
		attribute.Int64("zekt.run_id", in.runID),
		attribute.String("zekt.step_id", in.stepID),
	)

	resp, err := r.register(ctx, h, in)
	if err == nil {
		err = setOutputs(h,
			OutputSuccess, "true",
			OutputRunID, strconv.FormatInt(in.runID, 10),
			OutputStepID, in.stepID,
			OutputErrorMessage, "",
		)
	}
	if err != nil {
		return r.fail(ctx, h, err)
	}

	metrics.RecordRun("success")
	h.Infof("Successfully registered run %d with Zekt", in.runID)
	if !resp.Success && resp.Error != "" {
		h.Warnf("Zekt API accepted the request but reported: %s", redact.String(resp.Error))
	}
	msg := resp.Message
	if msg == "" {
		msg = "Payload registered successfully"
	}
	h.Infof("Message: %s", redact.String(msg))
	return nil
}

func (r *Runner) register(ctx context.Context, h Host, in inputs) (delivery.Response, error) {
	h.Infof("Validating inputs...")
	if err := validate.Fields(validate.Inputs{
		RunID:    in.runID,
		StepID:   in.stepID,
		Payload:  in.payload,
		Token:    in.token,
		Endpoint: in.endpoint,
	}); err != nil {
		return delivery.Response{}, err
	}

	h.Infof("Validating payload size...")
	res, err := validate.PayloadSize(in.payload, r.limits, h)
	if err != nil {
		return delivery.Response{}, err
	}
	metrics.ObservePayloadSize(res.SizeBytes)
	h.Infof("Payload size: %s", validate.FormatBytes(int64(res.SizeBytes)))

	h.Infof("Validating JSON structure...")
	payload, err := validate.JSON(in.payload)
	if err != nil {
		return delivery.Response{}, err
	}

	endpoint := in.endpoint
	if endpoint == "" {
		endpoint = r.cfg.APIURL
	}
	if endpoint == "" {
		return delivery.Response{}, config.ErrMissingAPIURL
	}

	req := delivery.NewRegisterRunRequest(in.runID, in.stepID, payload, h.Context())
	h.Infof("Sending payload to Zekt (run_id: %d, step_id: %s)...", in.runID, in.stepID)
	return r.sender.Send(ctx, endpoint, req, in.token)
}

func (r *Runner) fail(ctx context.Context, h Host, err error) error {
	err = redact.Error(err)
	msg := err.Error()

	metrics.RecordRun("failed")
	if validate.IsValidation(err) {
		metrics.RecordValidationFailure(string(validate.CheckOf(err)))
	}
	tracing.SetSpanError(ctx, err)

	if oerr := setOutputs(h,
		OutputSuccess, "false",
		OutputErrorMessage, msg,
	); oerr != nil {
		h.Warnf("Failed to set outputs: %s", redact.String(oerr.Error()))
	}
	h.SetFailed("Failed to register run with Zekt: " + msg)
	return err
}

// setOutputs writes name/value pairs in order, joining any errors.
func setOutputs(h Host, kv ...string) error {
	var errs []error
	for i := 0; i+1 < len(kv); i += 2 {
		if err := h.SetOutput(kv[i], kv[i+1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
