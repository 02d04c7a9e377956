package delivery

import "encoding/json"

// GitHubContext describes the CI run that produced the payload. The values
// are forwarded as-is.
type GitHubContext struct {
	Repository string `json:"repository"`
	Workflow   string `json:"workflow"`
	Job        string `json:"job"`
	Actor      string `json:"actor"`
	EventName  string `json:"event_name"`
	Ref        string `json:"ref"`
	SHA        string `json:"sha"`
}

// RegisterRunRequest is the body of POST /api/zekt/register-run.
type RegisterRunRequest struct {
	RunID         int64         `json:"zekt_run_id"`
	StepID        string        `json:"zekt_step_id"`
	Payload       any           `json:"zekt_payload"`
	GitHubContext GitHubContext `json:"github_context"`
}

// Response is what the Zekt API answers with, on success and failure alike.
type Response struct {
	Success bool   `json:"success"`
	RunID   int64  `json:"run_id,omitempty"`
	StepID  string `json:"step_id,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewRegisterRunRequest assembles the outbound request from validated input.
func NewRegisterRunRequest(runID int64, stepID string, payload any, gh GitHubContext) RegisterRunRequest {
	return RegisterRunRequest{
		RunID:         runID,
		StepID:        stepID,
		Payload:       payload,
		GitHubContext: gh,
	}
}

func (r RegisterRunRequest) encode() ([]byte, error) {
	return json.Marshal(r)
}
