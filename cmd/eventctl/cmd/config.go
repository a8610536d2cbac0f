package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/event_relay/internal/transport"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage eventctl configuration",
	Long:  `Manage eventctl configuration settings.`,
}

// currentSettings masks the SDK key so config view is safe to paste
func currentSettings(v *viper.Viper) map[string]any {
	key := v.GetString("sdk-key")
	if len(key) > 8 {
		key = key[:4] + "…" + key[len(key)-4:]
	} else if key != "" {
		key = "****"
	}
	return map[string]any{
		"base-uri":    v.GetString("base-uri"),
		"sdk-key":     key,
		"wrapper":     v.GetString("wrapper"),
		"timeout":     v.GetDuration("timeout").String(),
		"retry-delay": v.GetDuration("retry-delay").String(),
		"ca-file":     v.GetString("ca-file"),
		"proxy":       v.GetString("proxy"),
		"nsqd":        v.GetString("nsqd"),
		"relay":       v.GetString("relay"),
		"json":        v.GetBool("json"),
		"pretty":      v.GetBool("pretty"),
	}
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the current configuration settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		settings := currentSettings(viper.GetViper())
		printOutput(cmd.OutOrStdout(), settings, func(w io.Writer) {
			fmt.Fprintln(w, "Current configuration:")
			for _, k := range settingKeys {
				fmt.Fprintf(w, "  %s: %v\n", k, settings[k])
			}
			if viper.GetBool("pretty") && !checkJQAvailable() {
				fmt.Fprintf(w, "  ⚠️  Warning: pretty=true but jq not found in PATH\n")
			}
			if viper.ConfigFileUsed() != "" {
				fmt.Fprintf(w, "  Config file: %s\n", viper.ConfigFileUsed())
			} else {
				fmt.Fprintln(w, "  Config file: none (using defaults)")
			}
		})
	},
}

// setValue validates value for key and stores it in v
func setValue(v *viper.Viper, key, value string) error {
	valid := false
	for _, k := range settingKeys {
		if k == key {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid configuration key: %s. Valid keys are: %v", key, settingKeys)
	}

	switch key {
	case "json", "pretty":
		switch value {
		case "true", "1", "yes", "on":
			v.Set(key, true)
		case "false", "0", "no", "off":
			v.Set(key, false)
		default:
			return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
		}
	case "timeout", "retry-delay":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid duration for %s: %s", key, value)
		}
		v.Set(key, d.String())
	default:
		v.Set(key, value)
	}
	return nil
}

// configPath is where set and init write
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".eventctl.yaml"), nil
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  eventctl config set base-uri http://localhost:8081
  eventctl config set sdk-key sdk-0000
  eventctl config set retry-delay 250ms`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := setValue(viper.GetViper(), key, value); err != nil {
			return err
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
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

		// Check if config file already exists
		if _, err := os.Stat(path); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}
		}

		viper.Set("base-uri", "https://events.launchdarkly.com")
		viper.Set("timeout", transport.DefaultTimeout.String())
		viper.Set("retry-delay", "1s")
		viper.Set("nsqd", "localhost:4150")
		viper.Set("relay", "localhost:8083")
		viper.Set("json", false)
		viper.Set("pretty", false)

		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", path)
		return nil
	},
}

// configCheckCmd represents the config check command
var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and dependencies",
	Long:  `Check the current configuration: transport settings, the SDK key and jq.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "Configuration check:")
		fmt.Fprintf(w, "  ✅ eventctl version: %s\n", Version)

		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(w, "  ✅ Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintf(w, "  ⚠️  Config file: not found (using defaults)\n")
		}

		if checkJQAvailable() {
			fmt.Fprintf(w, "  ✅ jq: available\n")
		} else {
			fmt.Fprintf(w, "  ❌ jq: not found in PATH\n")
		}

		if viper.GetString("sdk-key") == "" {
			fmt.Fprintf(w, "  ⚠️  SDK key: not set, the collection service will reject requests\n")
		} else {
			fmt.Fprintf(w, "  ✅ SDK key: set\n")
		}

		if _, err := transport.NewHTTPClient(transportConfig()); err != nil {
			fmt.Fprintf(w, "  ❌ Transport: %v\n", err)
			return err
		}
		fmt.Fprintf(w, "  ✅ Transport: OK\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)

	// Flags for init command
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
