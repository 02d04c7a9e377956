package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/zekt_action/internal/config"
	"github.com/austindbirch/zekt_action/internal/redact"
)

// configKeys lists the settings config set accepts.
var configKeys = []string{"api_url", "timeout", "max_attempts", "retry_delay", "json", "pretty", "token"}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage zektctl configuration",
	Long:  `Manage zektctl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		tok := ""
		if token != "" {
			tok = redact.Placeholder
		}
		file := viper.ConfigFileUsed()
		if file == "" {
			file = "none (using defaults)"
		}
		settings := map[string]string{
			"api_url":      apiURL,
			"timeout":      timeout.String(),
			"max_attempts": strconv.Itoa(maxAttempts),
			"retry_delay":  retryDelay.String(),
			"json":         strconv.FormatBool(outputJSON),
			"pretty":       strconv.FormatBool(prettyJSON),
			"token":        tok,
			"config_file":  file,
		}
		printOutput(cmd.OutOrStdout(), settings)
		if prettyJSON && !checkJQAvailable() {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: pretty=true but jq not found in PATH")
		}
	},
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  zektctl config set api_url https://zekt.example.com
  zektctl config set timeout 10s
  zektctl config set max_attempts 5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		switch key {
		case "json", "pretty":
			b, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
			}
			viper.Set(key, b)
		case "timeout", "retry_delay":
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid duration for %s: %s", key, value)
			}
			viper.Set(key, d.String())
		case "max_attempts":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid value for max_attempts: %s (must be a positive integer)", value)
			}
			viper.Set(key, n)
		case "api_url", "token":
			viper.Set(key, value)
		default:
			return fmt.Errorf("invalid configuration key: %s. Valid keys are: %v", key, configKeys)
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		shown := value
		if key == "token" {
			shown = redact.Placeholder
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, shown)
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
		return nil
	},
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in the home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}
		}

		defaults := config.Default("")
		viper.Set("api_url", "")
		viper.Set("timeout", defaults.RequestTimeout.String())
		viper.Set("max_attempts", defaults.Retry.MaxAttempts)
		viper.Set("retry_delay", defaults.Retry.BaseDelay.String())
		viper.Set("json", false)
		viper.Set("pretty", false)

		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", path)
		return nil
	},
}

// configPath is the --config file, or $HOME/.zektctl.yaml
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".zektctl.yaml"), nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")
}
