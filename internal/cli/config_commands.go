package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/clinops/intake-tracker/internal/api"
	"github.com/clinops/intake-tracker/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage intake-tracker configuration",
		Long: `Configuration management commands for intake-tracker.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test the connection to the extraction service
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for intake-tracker.

Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg := promptConfig(bufio.NewReader(cmd.InOrStdin()), out, config.Default())
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			GetLogger().Info().Str("path", path).Msg("Configuration saved")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			fmt.Fprintln(out, "Test your configuration with: intake-tracker config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// promptConfig asks for the settings most installs change, starting from base.
func promptConfig(r *bufio.Reader, out io.Writer, base *config.Config) *config.Config {
	cfg := *base
	ask := func(label, def string) string {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
		line, _ := r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
		return def
	}

	fmt.Fprintln(out, "Intake Tracker Configuration Setup")
	fmt.Fprintln(out, "==================================")
	fmt.Fprintln(out)

	cfg.APIBaseURL = ask("Extraction service URL", cfg.APIBaseURL)
	cfg.APIKey = ask("API key (empty for none)", cfg.APIKey)

	maxFiles := ask("Maximum files per batch", strconv.Itoa(cfg.MaxFiles))
	if v, err := strconv.Atoi(maxFiles); err == nil && v > 0 {
		cfg.MaxFiles = v
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Push channels: websocket, redis, none")
	cfg.ChannelMode = ask("Push channel", cfg.ChannelMode)
	if cfg.ChannelMode == "redis" {
		cfg.RedisURL = ask("Redis URL", lo.CoalesceOrEmpty(cfg.RedisURL, "redis://127.0.0.1:6379/0"))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
	cfg.ProxyMode = ask("Proxy mode", cfg.ProxyMode)
	if cfg.ProxyMode != "no-proxy" && cfg.ProxyMode != "system" {
		cfg.ProxyHost = ask("Proxy host", cfg.ProxyHost)
		port := ask("Proxy port", strconv.Itoa(lo.CoalesceOrEmpty(cfg.ProxyPort, 8080)))
		if v, err := strconv.Atoi(port); err == nil && v > 0 {
			cfg.ProxyPort = v
		}
		cfg.ProxyUser = ask("Proxy user", cfg.ProxyUser)
	}

	return &cfg
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file (~/.config/intake-tracker/config)
  2. .env.local and INTAKE_* environment variables
  3. Command-line flags (--api-key, --api-url, --channel)

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlags(cfg)
			printConfig(cmd.OutOrStdout(), cfg, configPath())
			return nil
		},
	}
}

func printConfig(out io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(out, "Current Configuration")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Service:")
	fmt.Fprintf(out, "  Base URL: %s\n", cfg.APIBaseURL)
	if cfg.APIKey != "" {
		// Never display any portion of the key
		fmt.Fprintf(out, "  API Key:  <set (%d chars)>\n", len(cfg.APIKey))
	} else {
		fmt.Fprintln(out, "  API Key:  <not set>")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Limits:")
	fmt.Fprintf(out, "  Max Files:      %d\n", cfg.MaxFiles)
	fmt.Fprintf(out, "  Max File Size:  %d bytes\n", cfg.MaxFileSizeBytes)
	fmt.Fprintf(out, "  Extensions:     %s\n", strings.Join(cfg.AllowedExtensions, ", "))
	fmt.Fprintf(out, "  Sniff Content:  %t\n", cfg.SniffContent)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Tracking:")
	fmt.Fprintf(out, "  Poll Interval:     %s\n", cfg.PollInterval)
	fmt.Fprintf(out, "  Completion Delay:  %s\n", cfg.CompletionDelay)
	fmt.Fprintf(out, "  Upload Weight:     %g\n", cfg.UploadWeight)
	if cfg.MaxTrackingDuration > 0 {
		fmt.Fprintf(out, "  Max Duration:      %s\n", cfg.MaxTrackingDuration)
	} else {
		fmt.Fprintln(out, "  Max Duration:      unlimited")
	}
	fmt.Fprintf(out, "  Complete on Close: %t\n", cfg.CompleteOnManualClose)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Push Channel:")
	fmt.Fprintf(out, "  Mode: %s\n", cfg.ChannelMode)
	if cfg.ChannelMode == "redis" {
		fmt.Fprintf(out, "  Redis URL: %s\n", cfg.RedisURL)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Proxy Settings:")
	fmt.Fprintf(out, "  Proxy Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(out, "  Proxy Host: %s\n", cfg.ProxyHost)
		fmt.Fprintf(out, "  Proxy Port: %d\n", cfg.ProxyPort)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "  (file does not exist - using defaults)")
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the connection to the extraction service",
		Long: `Test the connection with the current configuration.

A lookup of a job that cannot exist is sent; a "not found" answer proves
the service is reachable and the API key is accepted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Service URL: %s\n", cfg.APIBaseURL)
			fmt.Fprintln(out, "Testing connection...")

			client, err := api.NewClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create API client: %w", err)
			}

			ctx, cancel := context.WithTimeout(GetContext(), 10*time.Second)
			defer cancel()

			if err := probe(ctx, client); err != nil {
				logger.Error().Err(err).Msg("Connection test failed")
				fmt.Fprintln(out, "✗ Connection FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}

			logger.Info().Msg("Connection test successful")
			fmt.Fprintln(out, "✓ Connection SUCCESSFUL")
			return nil
		},
	}
}

const probeJobID = "connection-test"

func probe(ctx context.Context, client *api.Client) error {
	_, err := client.FetchJobSnapshot(ctx, probeJobID)
	if err == nil || api.IsNotFound(err) {
		return nil
	}
	return err
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n\n", path)

			if info, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Size:   %d bytes\n", info.Size())
				fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: intake-tracker config init")
			}
			return nil
		},
	}
}
