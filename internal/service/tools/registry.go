package tools

import (
	"answer-bot/internal/logger"
	"answer-bot/internal/service/llm"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrToolAlreadyRegistered is returned when registering a duplicate name
var ErrToolAlreadyRegistered = errors.New("tool already registered")

// ExecuteFunc runs a tool with decoded JSON arguments
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is a function the model may call during generation
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any
	Execute    ExecuteFunc
	Timeout    time.Duration
}

// Registry holds the tools available to providers
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool
func (r *Registry) Register(tool *Tool) error {
	if tool.Name == "" || tool.Execute == nil {
		return fmt.Errorf("invalid tool: name and execute are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// MustRegister registers a tool and panics on error
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Names returns the registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the specs of the named tools, skipping unknown names
func (r *Registry) Specs(names []string) []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var specs []llm.ToolSpec
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			logger.Log.WithField("tool", name).Warn("Unknown tool in provider config")
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return specs
}

// Execute runs a tool call. Failures are returned as text for the model to read.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) string {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("error: invalid arguments for %s: %v", call.Name, err)
		}
	}

	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	fields := logrus.Fields{"tool": call.Name, "elapsed_ms": time.Since(start).Milliseconds()}
	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Warn("Tool execution failed")
		return fmt.Sprintf("error: %s failed: %v", call.Name, err)
	}
	logger.Log.WithFields(fields).Debug("Tool executed")
	return result
}
