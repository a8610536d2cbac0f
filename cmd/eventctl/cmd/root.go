package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/event_relay/internal/events"
	"github.com/austindbirch/event_relay/internal/transport"
)

var (
	cfgFile    string
	outputJSON bool
	prettyJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eventctl",
	Short: "Event relay CLI - send and queue analytics event payloads",
	Long: `eventctl is a command line tool for the event relay.

You can use it to post a payload straight to the collection service, queue a
batch for the relay over NSQ, and check relay health.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.eventctl.yaml)")
	pf.String("base-uri", "https://events.launchdarkly.com", "collection service base URI")
	pf.String("sdk-key", "", "SDK key sent as the Authorization header")
	pf.String("wrapper", "", "wrapper name[/version] sent as X-LaunchDarkly-Wrapper")
	pf.Duration("timeout", transport.DefaultTimeout, "per-request timeout")
	pf.Duration("retry-delay", events.DefaultRetryDelay, "pause before the single retry")
	pf.String("ca-file", "", "PEM bundle trusted for the collection service")
	pf.String("proxy", "", "HTTP proxy URL")
	pf.String("nsqd", "localhost:4150", "nsqd TCP address used by publish")
	pf.String("relay", "localhost:8083", "relay metrics/health address")
	pf.BoolVar(&outputJSON, "json", false, "output in JSON format")
	pf.BoolVar(&prettyJSON, "pretty", false, "use jq for pretty JSON formatting (requires jq)")

	// Bind flags to viper
	for _, name := range settingKeys {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

// settingKeys are the persistent flags that can also come from the config file or env
var settingKeys = []string{
	"base-uri", "sdk-key", "wrapper", "timeout", "retry-delay",
	"ca-file", "proxy", "nsqd", "relay", "json", "pretty",
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
		viper.SetConfigName(".eventctl")
	}

	// EVENTCTL_SDK_KEY, EVENTCTL_BASE_URI, ...
	viper.SetEnvPrefix("eventctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
	if !rootCmd.PersistentFlags().Changed("pretty") {
		prettyJSON = viper.GetBool("pretty")
	}
}

// transportConfig builds the sender's transport settings from flags, env and config file
func transportConfig() transport.Config {
	return transport.Config{
		SDKKey:    viper.GetString("sdk-key"),
		UserAgent: "eventctl/" + Version,
		Wrapper:   viper.GetString("wrapper"),
		Timeout:   viper.GetDuration("timeout"),
		CAFile:    viper.GetString("ca-file"),
		ProxyURL:  viper.GetString("proxy"), // empty falls back to HTTPS_PROXY and friends
	}
}

// readPayload returns the literal --data value, or the contents of --file ("-" for stdin)
func readPayload(cmd *cobra.Command) ([]byte, error) {
	data, _ := cmd.Flags().GetString("data")
	file, _ := cmd.Flags().GetString("file")

	var b []byte
	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("use either --data or --file, not both")
	case data != "":
		b = []byte(data)
	case file == "-":
		var err error
		if b, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	case file != "":
		var err error
		if b, err = os.ReadFile(file); err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
	default:
		return nil, fmt.Errorf("a payload is required (--data or --file)")
	}

	b = bytes.TrimSpace(b)
	if !json.Valid(b) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return b, nil
}

// eventCount is the --count flag, or the array length of an analytics payload
func eventCount(cmd *cobra.Command, kind events.Kind, payload []byte) int {
	if n, _ := cmd.Flags().GetInt("count"); n > 0 {
		return n
	}
	if kind == events.KindAnalytics {
		var arr []json.RawMessage
		if err := json.Unmarshal(payload, &arr); err == nil {
			return len(arr)
		}
	}
	return 1
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

// printOutput prints v as JSON when --json is set, otherwise with human
func printOutput(w io.Writer, v any, human func(io.Writer)) {
	if !outputJSON {
		human(w)
		return
	}

	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling to JSON: %v\n", err)
		return
	}

	if prettyJSON {
		formatted, jqErr := formatWithJQ(jsonData)
		if jqErr == nil {
			fmt.Fprint(w, formatted)
			return
		}
		// Fall back to standard pretty printing if jq fails
		fmt.Fprintf(os.Stderr, "Warning: %v, falling back to standard formatting\n", jqErr)
	}
	fmt.Fprintln(w, string(jsonData))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
