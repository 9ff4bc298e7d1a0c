package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hargabyte/sentvec/internal/config"
	"github.com/hargabyte/sentvec/internal/mcp"
	"github.com/hargabyte/sentvec/internal/metrics"
	"github.com/hargabyte/sentvec/internal/output"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server for AI agent integration",
	Long: `Start an MCP (Model Context Protocol) server that keeps the configured
model loaded and answers embedding requests over stdio.

Loading a model takes seconds; embedding a sentence takes milliseconds. Use
the server when an agent embeds repeatedly, and the CLI for one-off calls.

Available Tools:
  sentvec_embed   Embed texts, one vector per text
  sentvec_info    Describe the loaded model

Examples:
  sentvec serve --mcp                      # Start with all tools
  sentvec serve --mcp --tools embed        # Expose only sentvec_embed
  sentvec serve --mcp --timeout 30m        # Auto-stop after 30 minutes idle
  sentvec serve --mcp --metrics-addr :9090 # Expose /metrics for Prometheus
  sentvec serve --status                   # Check if server is running
  sentvec serve --stop                     # Stop running server
  sentvec serve --list-tools               # Show available tools`,
	RunE: runServe,
}

var (
	serveMCP       bool
	serveTools     string
	serveTimeout   string
	serveStatus    bool
	serveStop      bool
	serveListTools bool
	serveMetrics   string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "Start MCP server (stdio transport)")
	serveCmd.Flags().StringVar(&serveTools, "tools", "", "Comma-separated list of tools to expose (default: all)")
	serveCmd.Flags().StringVar(&serveTimeout, "timeout", "30m", "Inactivity timeout (0 for no timeout)")
	serveCmd.Flags().BoolVar(&serveStatus, "status", false, "Check if server is running")
	serveCmd.Flags().BoolVar(&serveStop, "stop", false, "Stop running server")
	serveCmd.Flags().BoolVar(&serveListTools, "list-tools", false, "List available tools")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (default: off)")
}

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if serveListTools {
		fmt.Fprintln(out, "Available MCP tools:")
		fmt.Fprintln(out)
		for _, s := range mcp.Schemas(mcp.AllTools) {
			fmt.Fprintf(out, "  %-15s %s\n", s.Name, s.Description)
		}
		return nil
	}

	if serveStatus {
		return checkServerStatus(cmd)
	}

	if serveStop {
		return stopServer(cmd)
	}

	if !serveMCP {
		return fmt.Errorf("use --mcp to start the MCP server, or --help for usage")
	}

	timeout, err := parseDuration(serveTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	tools := parseToolList(serveTools)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout carries the MCP protocol; everything else goes to stderr
	logger := newLogger(os.Stderr)
	logger.Info("loading model", "provider", cfg.Model.Provider, "model", cfg.Model.ID)

	e, closeFn, err := openProvider(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	server, err := mcp.New(mcp.Config{
		Embedder:   e,
		Info:       func() output.ModelInfoOutput { return modelInfo(cfg, e) },
		Tools:      tools,
		Timeout:    timeout,
		BatchSize:  cfg.Batch.Size,
		Precision:  cfg.Output.Digits(),
		Normalized: normalized(cfg),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if serveMetrics != "" {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() {
			if err := metrics.Serve(ctx, serveMetrics, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if err := writePIDFile(); err != nil {
		logger.Warn("could not write PID file", "error", err)
	}
	defer removePIDFile()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintf(os.Stderr, "\nsentvec serve: shutting down\n")
		closeFn()
		removePIDFile()
		os.Exit(0)
	}()

	fmt.Fprintf(os.Stderr, "sentvec serve: starting MCP server\n")
	fmt.Fprintf(os.Stderr, "sentvec serve: tools: %v\n", server.ListTools())
	if timeout > 0 {
		fmt.Fprintf(os.Stderr, "sentvec serve: timeout: %v\n", timeout)
	}

	return server.ServeStdio()
}

// parseToolList splits a comma-separated tool list, expanding shorthand
// names (embed -> sentvec_embed).
func parseToolList(s string) []string {
	var tools []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tools = append(tools, normalizeToolName(t))
		}
	}
	return tools
}

func parseDuration(s string) (time.Duration, error) {
	if s == "0" || s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func getPIDFilePath() (string, error) {
	cfgDir, err := config.FindConfigDir(".")
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, "serve.pid"), nil
}

func writePIDFile() error {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return err
	}
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removePIDFile() {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return
	}
	os.Remove(pidPath)
}

// readPID returns the pid recorded in the PID file, or 0 if there is none.
func readPID() (int, error) {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return 0, nil
	}
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		removePIDFile()
		return 0, fmt.Errorf("invalid PID file")
	}
	return pid, nil
}

func checkServerStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	pid, err := readPID()
	if err != nil || pid == 0 {
		fmt.Fprintln(out, "Status: not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(out, "Status: not running")
		removePIDFile()
		return nil
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0 to check
	if err := process.Signal(syscall.Signal(0)); err != nil {
		fmt.Fprintln(out, "Status: not running (stale PID file)")
		removePIDFile()
		return nil
	}

	fmt.Fprintf(out, "Status: running (PID %d)\n", pid)
	return nil
}

func stopServer(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	pid, err := readPID()
	if err != nil {
		return err
	}
	if pid == 0 {
		fmt.Fprintln(out, "No server running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		removePIDFile()
		fmt.Fprintln(out, "No server running")
		return nil
	}

	// Send SIGTERM for graceful shutdown
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile()
		fmt.Fprintln(out, "Server already stopped")
		return nil
	}

	fmt.Fprintf(out, "Stopped server (PID %d)\n", pid)
	return nil
}
