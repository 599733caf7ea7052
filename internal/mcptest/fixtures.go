package mcptest

import (
	"time"

	"github.com/Bigsy/toolwire/internal/mcptest/fakeserver"
	"github.com/invopop/jsonschema"
)

// Common test configurations for fake servers.

// CalculateArgs is the argument shape of the calculate tool.
type CalculateArgs struct {
	Expression string `json:"expression" jsonschema:"description=Arithmetic expression to evaluate"`
}

// ListAgentsArgs is the argument shape of the list_agents tool.
type ListAgentsArgs struct {
	Status string `json:"status,omitempty" jsonschema:"enum=active,enum=idle"`
	Limit  int    `json:"limit,omitempty"`
}

// CalculateSchema is the input schema for the calculate tool.
func CalculateSchema() *jsonschema.Schema {
	return fakeserver.SchemaFor[CalculateArgs]()
}

// ListAgentsSchema is the input schema for the list_agents tool.
func ListAgentsSchema() *jsonschema.Schema {
	return fakeserver.SchemaFor[ListAgentsArgs]()
}

// DefaultConfig returns a minimal working fake server configuration.
func DefaultConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "read_file", Description: "Read a file from disk"},
			{Name: "write_file", Description: "Write content to a file"},
		},
	}
}

// EchoToolsConfig returns a config that echoes tool calls back as text.
// Useful for testing tool call routing.
func EchoToolsConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "calculate", Description: "Evaluate an arithmetic expression", InputSchema: CalculateSchema()},
			{Name: "list_agents", Description: "List known agents", InputSchema: ListAgentsSchema()},
			{Name: "echo", Description: "Echo the input back"},
		},
		EchoToolCalls: true,
	}
}

// SlowInitConfig returns a config that delays the initialize response.
func SlowInitConfig(delay time.Duration) FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{{Name: "test_tool"}},
		Delays: map[string]time.Duration{
			"initialize": delay,
		},
	}
}

// CrashOnInitConfig returns a config that crashes on initialize.
func CrashOnInitConfig(exitCode int) FakeServerConfig {
	return FakeServerConfig{
		CrashOnMethod: "initialize",
		CrashExitCode: exitCode,
	}
}

// CrashOnNthRequestConfig returns a config that crashes on the Nth request.
func CrashOnNthRequestConfig(n, exitCode int) FakeServerConfig {
	cfg := EchoToolsConfig()
	cfg.CrashOnNthRequest = n
	cfg.CrashExitCode = exitCode
	return cfg
}

// ErrorOnInitConfig returns a config that returns an error on initialize.
func ErrorOnInitConfig(code int, message string) FakeServerConfig {
	return FakeServerConfig{
		Errors: map[string]JSONRPCError{
			"initialize": {Code: code, Message: message},
		},
	}
}

// NoisyStreamConfig interleaves notifications, server pings and responses
// with foreign ids ahead of every real response.
func NoisyStreamConfig() FakeServerConfig {
	cfg := EchoToolsConfig()
	cfg.SendNotificationBeforeResponse = true
	cfg.SendMismatchedIDFirst = true
	cfg.SendPingBeforeResponse = true
	return cfg
}

// MalformedResponseConfig returns a config that sends invalid JSON.
func MalformedResponseConfig() FakeServerConfig {
	return FakeServerConfig{
		Malformed: true,
	}
}

// SlowToolConfig delays calls to the named tool; other calls answer at once.
func SlowToolConfig(name string, delay time.Duration) FakeServerConfig {
	cfg := EchoToolsConfig()
	cfg.ToolDelays = map[string]time.Duration{name: delay}
	return cfg
}

// SilentToolConfig never answers calls to the named tool.
func SilentToolConfig(name string) FakeServerConfig {
	cfg := EchoToolsConfig()
	cfg.SilentTools = []string{name}
	return cfg
}

// PagedToolsConfig serves count tools in pages of size.
func PagedToolsConfig(count, size int) FakeServerConfig {
	tools := make([]Tool, count)
	for i := range tools {
		tools[i] = Tool{
			Name:        "tool_" + string(rune('a'+i%26)) + "_" + string(rune('0'+i/26)),
			Description: "A paged test tool",
		}
	}
	return FakeServerConfig{Tools: tools, PageSize: size}
}

// DuplicateToolsConfig advertises the same tool name twice.
func DuplicateToolsConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "search", Description: "first"},
			{Name: "fetch", Description: "fetch a url"},
			{Name: "search", Description: "second"},
		},
		EchoToolCalls: true,
	}
}

// ListChangedConfig swaps in an extra tool after the first call and
// announces it with notifications/tools/list_changed.
func ListChangedConfig() FakeServerConfig {
	cfg := EchoToolsConfig()
	cfg.ToolsAfterChange = append(append([]Tool{}, cfg.Tools...), Tool{Name: "late_tool", Description: "Added after a call"})
	return cfg
}

// StubbornConfig ignores SIGTERM and stays alive after stdin closes.
func StubbornConfig() FakeServerConfig {
	cfg := DefaultConfig()
	cfg.HangOnEOF = true
	return cfg
}
