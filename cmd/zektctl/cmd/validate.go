package cmd

import (
	"github.com/spf13/cobra"

	"github.com/austindbirch/zekt_action/internal/logging"
	"github.com/austindbirch/zekt_action/internal/validate"
)

var (
	validatePayloadText string
	validatePayloadFile string
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a payload's size and JSON structure without sending it",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := loadPayload(validatePayloadText, validatePayloadFile)
		if err != nil {
			return err
		}
		logger := logging.NewWithWriter("zektctl", cmd.ErrOrStderr())

		res, err := validate.PayloadSize(payload, validate.DefaultLimits(), logger)
		if err != nil {
			return err
		}
		if _, err := validate.JSON(payload); err != nil {
			return err
		}

		out := map[string]string{
			"valid": "true",
			"size":  validate.FormatBytes(int64(res.SizeBytes)),
		}
		if res.Warning != "" {
			out["warning"] = res.Warning
		}
		printOutput(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validatePayloadText, "payload", "", "JSON payload")
	validateCmd.Flags().StringVar(&validatePayloadFile, "payload-file", "", "file holding the payload (.json, .yaml or .yml)")
}
