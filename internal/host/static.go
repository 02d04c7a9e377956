package host

import (
	"fmt"
	"strings"
	"sync"

	"github.com/austindbirch/zekt_action/internal/delivery"
	"github.com/austindbirch/zekt_action/internal/logging"
)

const maskPlaceholder = "***"

// Static is an in-memory host: inputs and context are fixed at construction,
// outputs are collected and diagnostics go to a structured logger.
type Static struct {
	inputs map[string]string
	ctx    delivery.GitHubContext
	logger *logging.Logger

	mu      sync.Mutex
	outputs map[string]string
	failure string
	failed  bool
	secrets []string
}

// NewStatic builds a Static host. A nil logger falls back to logging.Default().
func NewStatic(inputs map[string]string, gh delivery.GitHubContext, logger *logging.Logger) *Static {
	if logger == nil {
		logger = logging.Default()
	}
	in := make(map[string]string, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	return &Static{
		inputs:  in,
		ctx:     gh,
		logger:  logger,
		outputs: make(map[string]string),
	}
}

func (s *Static) Input(name string) string {
	return strings.TrimSpace(s.inputs[name])
}

func (s *Static) SetOutput(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[name] = value
	return nil
}

// Output returns a collected output value.
func (s *Static) Output(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.outputs[name]
	return v, ok
}

// Outputs returns a copy of every collected output.
func (s *Static) Outputs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

func (s *Static) Context() delivery.GitHubContext { return s.ctx }

func (s *Static) SetFailed(msg string) {
	msg = s.mask(msg)
	s.mu.Lock()
	s.failed = true
	s.failure = msg
	s.mu.Unlock()
	s.logger.Plain().Error(msg)
}

// Failed reports whether SetFailed was called and with which message.
func (s *Static) Failed() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed, s.failure
}

// Mask hides secret in every later diagnostic.
func (s *Static) Mask(secret string) {
	if secret == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = append(s.secrets, secret)
}

func (s *Static) mask(msg string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, secret := range s.secrets {
		msg = strings.ReplaceAll(msg, secret, maskPlaceholder)
	}
	return msg
}

func (s *Static) Debugf(format string, args ...any) {
	s.logger.Plain().Debug(s.mask(fmt.Sprintf(format, args...)))
}

func (s *Static) Infof(format string, args ...any) {
	s.logger.Plain().Info(s.mask(fmt.Sprintf(format, args...)))
}

func (s *Static) Warnf(format string, args ...any) {
	s.logger.Plain().Warn(s.mask(fmt.Sprintf(format, args...)))
}
