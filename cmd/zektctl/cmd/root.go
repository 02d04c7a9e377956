package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/austindbirch/zekt_action/internal/config"
)

var (
	cfgFile     string
	apiURL      string
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	outputJSON  bool
	prettyJSON  bool
	token       string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zektctl",
	Short: "Zekt CLI - Register and check CI run payloads against the Zekt API",
	Long: `zektctl is a command line tool for working with the Zekt run
registration API outside of a CI runner.

You can use it to register a payload, validate a payload offline before
committing it to a workflow, and probe the API's health.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.Default("")

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zektctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Zekt API base address (defaults to ZEKT_API_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", defaults.RequestTimeout, "per-request timeout")
	rootCmd.PersistentFlags().IntVar(&maxAttempts, "max-attempts", defaults.Retry.MaxAttempts, "total delivery attempts")
	rootCmd.PersistentFlags().DurationVar(&retryDelay, "retry-delay", defaults.Retry.BaseDelay, "delay before the first retry; doubles each retry")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&prettyJSON, "pretty", false, "use jq for pretty JSON formatting (requires jq)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (overrides GITHUB_TOKEN env var)")

	// Bind flags to viper
	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("max_attempts", rootCmd.PersistentFlags().Lookup("max-attempts"))
	viper.BindPFlag("retry_delay", rootCmd.PersistentFlags().Lookup("retry-delay"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".zektctl")
	}

	viper.SetEnvPrefix("zekt")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	flags := rootCmd.PersistentFlags()
	if !flags.Changed("api-url") {
		if s := viper.GetString("api_url"); s != "" {
			apiURL = s
		}
	}
	if !flags.Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !flags.Changed("max-attempts") {
		if n := viper.GetInt("max_attempts"); n > 0 {
			maxAttempts = n
		}
	}
	if !flags.Changed("retry-delay") {
		if d := viper.GetDuration("retry_delay"); d > 0 {
			retryDelay = d
		}
	}
	if !flags.Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !flags.Changed("pretty") {
		prettyJSON = viper.GetBool("pretty")
	}
	if !flags.Changed("token") {
		if t := viper.GetString("token"); t != "" {
			token = t
		} else if t := os.Getenv("GITHUB_TOKEN"); t != "" {
			token = t
		}
	}
}

// runConfig assembles the run configuration from flags and config file
func runConfig() config.Config {
	cfg := config.Default(strings.TrimSpace(apiURL))
	cfg.AppName = "zektctl"
	cfg.RequestTimeout = timeout
	cfg.Retry.MaxAttempts = config.ClampAttempts(maxAttempts)
	cfg.Retry.BaseDelay = retryDelay
	return cfg
}

// loadPayload returns the payload text from a file or the inline flag. YAML
// files are converted to JSON.
func loadPayload(inline, file string) (string, error) {
	if file == "" {
		return inline, nil
	}
	if inline != "" {
		return "", fmt.Errorf("--payload and --payload-file are mutually exclusive")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read payload file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		return string(data), nil
	}
}

// yamlToJSON converts a YAML document into compact JSON text
func yamlToJSON(data []byte) (string, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("failed to parse YAML payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to convert YAML payload to JSON: %w", err)
	}
	return string(out), nil
}

// checkJQAvailable checks if jq is available in PATH
func checkJQAvailable() bool {
	_, err := exec.LookPath("jq")
	return err == nil
}

// formatWithJQ formats JSON using jq for pretty printing
func formatWithJQ(jsonData []byte) (string, error) {
	if !checkJQAvailable() {
		return "", fmt.Errorf("jq not found in PATH")
	}

	cmd := exec.Command("jq", ".")
	cmd.Stdin = bytes.NewReader(jsonData)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("jq formatting failed: %s", stderr.String())
	}

	return out.String(), nil
}

// printOutput prints v to w in the requested format. String maps print as
// sorted key: value lines in human mode.
func printOutput(w io.Writer, v any) {
	if !outputJSON {
		if m, ok := v.(map[string]string); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%s: %s\n", k, m[k])
			}
			return
		}
		fmt.Fprintf(w, "%+v\n", v)
		return
	}

	if prettyJSON {
		jsonData, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
			return
		}
		formatted, jqErr := formatWithJQ(jsonData)
		if jqErr == nil {
			fmt.Fprint(w, formatted)
			return
		}
		// Fall back to standard pretty printing if jq fails
		fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
	}

	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(jsonData))
}
