// Package mcp provides an MCP (Model Context Protocol) server for sentvec.
// It keeps one embedding model loaded so agents can embed text through MCP
// tools instead of paying the model load cost on every CLI call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hargabyte/sentvec/internal/embeddings"
	"github.com/hargabyte/sentvec/internal/metrics"
	"github.com/hargabyte/sentvec/internal/output"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	ToolEmbed = "sentvec_embed"
	ToolInfo  = "sentvec_info"
)

// Server wraps the MCP server with a loaded embedder
type Server struct {
	mcpServer    *server.MCPServer
	embedder     embeddings.Embedder
	info         func() output.ModelInfoOutput
	batchSize    int
	precision    int
	normalized   bool
	tools        map[string]bool
	lastActivity time.Time
	timeout      time.Duration
	mu           sync.RWMutex
}

// Config holds server configuration
type Config struct {
	Embedder   embeddings.Embedder
	Info       func() output.ModelInfoOutput // Reported by sentvec_info
	Tools      []string                      // Which tools to expose (empty = all)
	Timeout    time.Duration                 // Inactivity timeout (0 = no timeout)
	BatchSize  int                           // Chunk size for embedding requests
	Precision  int                           // Decimal places in returned vectors
	Normalized bool                          // Whether the embedder returns unit vectors
}

// AllTools lists all available tools
var AllTools = []string{ToolEmbed, ToolInfo}

// New creates a new MCP server around an embedder that is ready for use.
func New(cfg Config) (*Server, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	mcpServer := server.NewMCPServer(
		"sentvec",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcpServer:    mcpServer,
		embedder:     cfg.Embedder,
		info:         cfg.Info,
		batchSize:    cfg.BatchSize,
		precision:    cfg.Precision,
		normalized:   cfg.Normalized,
		tools:        make(map[string]bool),
		lastActivity: time.Now(),
		timeout:      cfg.Timeout,
	}

	toolsToRegister := cfg.Tools
	if len(toolsToRegister) == 0 {
		toolsToRegister = AllTools
	}

	for _, toolName := range toolsToRegister {
		if err := s.registerTool(toolName); err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", toolName, err)
		}
		s.tools[toolName] = true
	}

	return s, nil
}

// registerTool registers a single tool with the MCP server
func (s *Server) registerTool(name string) error {
	switch name {
	case ToolEmbed:
		return s.registerEmbedTool()
	case ToolInfo:
		return s.registerInfoTool()
	default:
		return fmt.Errorf("unknown tool: %s", name)
	}
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	if s.timeout > 0 {
		go s.timeoutChecker()
	}

	return server.ServeStdio(s.mcpServer)
}

// timeoutChecker monitors for inactivity and exits if timeout exceeded
func (s *Server) timeoutChecker() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		elapsed := time.Since(s.lastActivity)
		s.mu.RUnlock()

		if elapsed > s.timeout {
			fmt.Fprintf(os.Stderr, "sentvec serve: timeout after %v of inactivity\n", s.timeout)
			os.Exit(0)
		}
	}
}

// updateActivity updates the last activity timestamp
func (s *Server) updateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// ListTools returns the sorted list of registered tools
func (s *Server) ListTools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]string, 0, len(s.tools))
	for t := range s.tools {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

// ToolSchema describes a tool's name, description, and parameters.
type ToolSchema struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Parameters  []ParameterSchema `json:"parameters" yaml:"parameters"`
}

// ParameterSchema describes a single tool parameter.
type ParameterSchema struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
}

// toolSchemaRegistry holds the schema definitions for all tools.
// These mirror the mcp.NewTool() definitions in the register*Tool() functions.
var toolSchemaRegistry = map[string]ToolSchema{
	ToolEmbed: {
		Name:        ToolEmbed,
		Description: "Embed one or more texts. Returns one vector per text, in input order.",
		Parameters: []ParameterSchema{
			{Name: "texts", Type: "array", Description: "Texts to embed", Required: true},
			{Name: "batch_size", Type: "number", Description: "Texts per inference call (default: configured batch size)"},
			{Name: "include_text", Type: "boolean", Description: "Echo each input text next to its vector"},
		},
	},
	ToolInfo: {
		Name:        ToolInfo,
		Description: "Describe the loaded embedding model: identifier, dimensions and state.",
		Parameters:  []ParameterSchema{},
	},
}

// GetToolSchemas returns schemas for all registered tools, sorted by name.
func (s *Server) GetToolSchemas() []ToolSchema {
	return Schemas(s.ListTools())
}

// Schemas returns the schemas of the named tools in the given order.
// Unknown names are skipped. It needs no loaded model.
func Schemas(names []string) []ToolSchema {
	schemas := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		if schema, ok := toolSchemaRegistry[name]; ok {
			schemas = append(schemas, schema)
		}
	}
	return schemas
}

// CallTool dispatches a tool call by name with the given arguments.
// Returns the JSON result string or an error.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]interface{}) (result string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveToolCall(name, start, err) }()

	s.mu.RLock()
	registered := s.tools[name]
	s.mu.RUnlock()

	if !registered {
		return "", fmt.Errorf("unknown tool: %s (run 'sentvec call --list' to see available tools)", name)
	}

	switch name {
	case ToolEmbed:
		texts, err := stringSlice(args["texts"])
		if err != nil {
			return "", err
		}
		batchSize := s.batchSize
		if b, ok := args["batch_size"].(float64); ok {
			batchSize = int(b)
		}
		includeText, _ := args["include_text"].(bool)
		return s.executeEmbed(ctx, texts, batchSize, includeText)

	case ToolInfo:
		return s.executeInfo()

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// stringSlice converts a decoded JSON array into strings.
func stringSlice(v interface{}) ([]string, error) {
	switch arr := v.(type) {
	case []string:
		return arr, nil
	case []interface{}:
		out := make([]string, len(arr))
		for i, item := range arr {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("texts[%d] must be a string, got %T", i, item)
			}
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("texts parameter is required")
	default:
		return nil, fmt.Errorf("texts must be an array of strings, got %T", v)
	}
}

// registerEmbedTool registers the sentvec_embed tool
func (s *Server) registerEmbedTool() error {
	tool := mcp.NewTool(ToolEmbed,
		mcp.WithDescription(toolSchemaRegistry[ToolEmbed].Description),
		mcp.WithArray("texts",
			mcp.Required(),
			mcp.Description("Texts to embed"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("batch_size",
			mcp.Description("Texts per inference call (default: configured batch size)"),
		),
		mcp.WithBoolean("include_text",
			mcp.Description("Echo each input text next to its vector"),
		),
	)

	s.mcpServer.AddTool(tool, s.handleEmbed)
	return nil
}

// registerInfoTool registers the sentvec_info tool
func (s *Server) registerInfoTool() error {
	tool := mcp.NewTool(ToolInfo,
		mcp.WithDescription(toolSchemaRegistry[ToolInfo].Description),
	)

	s.mcpServer.AddTool(tool, s.handleInfo)
	return nil
}

func (s *Server) handleEmbed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.updateActivity()

	result, err := s.CallTool(ctx, ToolEmbed, req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.updateActivity()

	result, err := s.CallTool(ctx, ToolInfo, req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(result), nil
}

func (s *Server) executeEmbed(ctx context.Context, texts []string, batchSize int, includeText bool) (string, error) {
	vecs, err := s.embedder.BatchEmbed(ctx, texts, batchSize)
	if err != nil {
		return "", err
	}
	metrics.ObserveEmbedded(s.modelName(), len(vecs))

	out := output.NewEmbeddingOutput(s.modelName(), texts, vecs, s.precision, includeText, s.normalized)
	return toJSON(out)
}

func (s *Server) executeInfo() (string, error) {
	if s.info != nil {
		return toJSON(s.info())
	}
	return toJSON(output.ModelInfoOutput{
		Model:        s.modelName(),
		DefaultModel: s.embedder.DefaultModelName(),
		Normalized:   s.normalized,
	})
}

// modelName prefers the configured identifier over the provider default.
func (s *Server) modelName() string {
	if m, ok := s.embedder.(interface{ ModelID() string }); ok {
		return m.ModelID()
	}
	return s.embedder.DefaultModelName()
}

func toJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
