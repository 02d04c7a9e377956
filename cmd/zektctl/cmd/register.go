package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/austindbirch/zekt_action/internal/action"
	"github.com/austindbirch/zekt_action/internal/delivery"
	"github.com/austindbirch/zekt_action/internal/host"
	"github.com/austindbirch/zekt_action/internal/logging"
)

var (
	registerRunID       int64
	registerStepID      string
	registerPayload     string
	registerPayloadFile string
	registerContext     delivery.GitHubContext
)

// registerCmd represents the register command
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a run payload with the Zekt API",
	Long: `Validate a payload and send it to {api-url}/api/zekt/register-run,
retrying server errors and rate limits with exponential backoff.

GitHub context flags default to the matching GITHUB_* environment variables.`,
	Example: `  zektctl register --api-url https://zekt.example.com --run-id 42 --payload '{"ok":true}'
  zektctl register --run-id 42 --step-id deploy --payload-file payload.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := loadPayload(registerPayload, registerPayloadFile)
		if err != nil {
			return err
		}

		cfg := runConfig()
		logger := logging.NewWithWriter("zektctl", cmd.ErrOrStderr())

		inputs := map[string]string{
			action.InputRunID:   strconv.FormatInt(registerRunID, 10),
			action.InputStepID:  registerStepID,
			action.InputPayload: payload,
			action.InputToken:   token,
		}
		h := host.NewStatic(inputs, githubContext(registerContext), logger)

		client := delivery.NewClient(delivery.OptionsFrom(cfg, h))
		runErr := action.New(cfg, client).Run(cmd.Context(), h)

		printOutput(cmd.OutOrStdout(), h.Outputs())
		return runErr
	},
}

// githubContext fills empty fields of c from the runner environment
func githubContext(c delivery.GitHubContext) delivery.GitHubContext {
	fill := func(v *string, env string) {
		if *v == "" {
			*v = os.Getenv(env)
		}
	}
	fill(&c.Repository, "GITHUB_REPOSITORY")
	fill(&c.Workflow, "GITHUB_WORKFLOW")
	fill(&c.Job, "GITHUB_JOB")
	fill(&c.Actor, "GITHUB_ACTOR")
	fill(&c.EventName, "GITHUB_EVENT_NAME")
	fill(&c.Ref, "GITHUB_REF")
	fill(&c.SHA, "GITHUB_SHA")
	return c
}

func init() {
	rootCmd.AddCommand(registerCmd)

	f := registerCmd.Flags()
	f.Int64Var(&registerRunID, "run-id", 0, "Zekt run id (required, positive)")
	f.StringVar(&registerStepID, "step-id", action.DefaultStepID, "Zekt step id")
	f.StringVar(&registerPayload, "payload", "", "JSON payload")
	f.StringVar(&registerPayloadFile, "payload-file", "", "file holding the payload (.json, .yaml or .yml)")
	f.StringVar(&registerContext.Repository, "repository", "", "owner/repo")
	f.StringVar(&registerContext.Workflow, "workflow", "", "workflow name")
	f.StringVar(&registerContext.Job, "job", "", "job id")
	f.StringVar(&registerContext.Actor, "actor", "", "user that triggered the run")
	f.StringVar(&registerContext.EventName, "event", "", "triggering event name")
	f.StringVar(&registerContext.Ref, "ref", "", "git ref")
	f.StringVar(&registerContext.SHA, "sha", "", "commit sha")
}
