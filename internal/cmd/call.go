package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hargabyte/sentvec/internal/mcp"
	"github.com/hargabyte/sentvec/internal/output"
	"github.com/spf13/cobra"
)

var (
	callList bool
	callPipe bool
)

var callCmd = &cobra.Command{
	Use:   "call [tool] [json-args]",
	Short: "Call an MCP tool once from the command line",
	Long: `Call a sentvec tool with structured JSON input and output, without
starting an MCP server.

Modes:
  sentvec call --list                        List all tools and parameters
  sentvec call <tool> '{"key":"value"}'      Call a tool with JSON args
  sentvec call --pipe                        Read JSON lines from stdin

Tool names accept shorthand: "embed" is equivalent to "sentvec_embed".
In pipe mode the model is loaded once for all requests.

Examples:
  sentvec call --list
  sentvec call embed '{"texts":["Hello world","Hallo Welt"]}'
  sentvec call info
  echo '{"tool":"embed","args":{"texts":["a"]}}' | sentvec call --pipe`,
	Args: cobra.MaximumNArgs(2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().BoolVar(&callList, "list", false, "List all available tools and their parameters")
	callCmd.Flags().BoolVar(&callPipe, "pipe", false, "Read JSON lines from stdin (pipe mode)")
}

func runCall(cmd *cobra.Command, args []string) error {
	if callList {
		return runCallList(cmd)
	}
	if callPipe {
		return runCallPipe(cmd)
	}
	if len(args) == 0 {
		return fmt.Errorf("tool name required (run 'sentvec call --list' to see available tools)")
	}
	return runCallSingle(cmd, args)
}

// runCallList prints every tool schema in the configured output format.
// It needs no model.
func runCallList(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeOutput(cmd, cfg, mcp.Schemas(mcp.AllTools))
}

// newCallServer loads the configured model behind an MCP server with every
// tool registered. The returned function releases the model.
func newCallServer(cmd *cobra.Command) (*mcp.Server, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	e, closeFn, err := openProvider(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr()))
	if err != nil {
		return nil, nil, err
	}

	srv, err := mcp.New(mcp.Config{
		Embedder:   e,
		Info:       func() output.ModelInfoOutput { return modelInfo(cfg, e) },
		Tools:      mcp.AllTools,
		BatchSize:  cfg.Batch.Size,
		Precision:  cfg.Output.Digits(),
		Normalized: normalized(cfg),
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create server: %w", err)
	}
	return srv, closeFn, nil
}

func runCallSingle(cmd *cobra.Command, args []string) error {
	toolName := normalizeToolName(args[0])

	// Parse JSON args
	var toolArgs map[string]interface{}
	if len(args) >= 2 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return fmt.Errorf("invalid JSON args: %w", err)
		}
	} else {
		toolArgs = make(map[string]interface{})
	}

	srv, closeFn, err := newCallServer(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := srv.CallTool(cmd.Context(), toolName, toolArgs)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

// pipeRequest is the JSON format for pipe mode input.
type pipeRequest struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// pipeResponse is the JSON format for pipe mode output.
type pipeResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func runCallPipe(cmd *cobra.Command) error {
	srv, closeFn, err := newCallServer(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	return servePipe(cmd, srv, cmd.InOrStdin(), cmd.OutOrStdout())
}

// servePipe answers one JSON request per input line with one JSON response
// line. Bad requests produce an error response and do not stop the loop.
func servePipe(cmd *cobra.Command, srv *mcp.Server, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	// Allow larger lines (16MB); embed requests carry whole documents
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req pipeRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			enc.Encode(pipeResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}

		toolName := normalizeToolName(req.Tool)
		if req.Args == nil {
			req.Args = make(map[string]interface{})
		}

		result, err := srv.CallTool(cmd.Context(), toolName, req.Args)
		if err != nil {
			enc.Encode(pipeResponse{Error: err.Error()})
			continue
		}

		var raw json.RawMessage
		if err := json.Unmarshal([]byte(result), &raw); err != nil {
			// Not valid JSON, wrap as string
			b, _ := json.Marshal(result)
			raw = b
		}
		enc.Encode(pipeResponse{Result: raw})
	}

	return scanner.Err()
}

// normalizeToolName converts shorthand names to full tool names.
// "embed" -> "sentvec_embed", "sentvec_embed" -> "sentvec_embed"
func normalizeToolName(name string) string {
	if !strings.HasPrefix(name, "sentvec_") {
		return "sentvec_" + name
	}
	return name
}
