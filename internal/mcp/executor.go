package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// jsonRPCRequest represents a JSON-RPC 2.0 request
type jsonRPCRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      int                    `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// jsonRPCResponse represents a JSON-RPC 2.0 response
type jsonRPCResponse struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      int                    `json:"id"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   *jsonRPCError          `json:"error,omitempty"`
}

// jsonRPCError represents a JSON-RPC 2.0 error
type jsonRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ToolInfo is a tool definition advertised by a server.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// Executor owns a process-based tool server: it spawns the child process and
// speaks line-delimited JSON-RPC 2.0 over its standard streams. The process
// is terminated on Close with a bounded wait before force-kill.
type Executor struct {
	name      string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	reader    *bufio.Reader
	writer    *bufio.Writer
	requestID int
	mu        sync.Mutex
}

// shutdownGrace is how long Close waits for the child to exit after
// terminating stdin before killing it.
const shutdownGrace = 5 * time.Second

// NewExecutor starts the tool server process and performs the MCP
// initialize handshake.
func NewExecutor(name string, cfg ServerConfig) (*Executor, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server process: %w", err)
	}

	e := &Executor{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		reader: bufio.NewReader(stdout),
		writer: bufio.NewWriter(stdin),
	}

	go e.drainStderr()

	if err := e.initialize(); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return e, nil
}

func (e *Executor) drainStderr() {
	scanner := bufio.NewScanner(e.stderr)
	for scanner.Scan() {
		log.Printf("[MCP %s stderr] %s", e.name, scanner.Text())
	}
}

func (e *Executor) initialize() error {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]interface{}{
				"name":    "spectraq-agent",
				"version": "1.0.0",
			},
		},
	}

	resp, err := e.sendRequest(req)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize error: %s", resp.Error.Message)
	}
	return nil
}

// ListTools retrieves the tools advertised by the server.
func (e *Executor) ListTools() ([]ToolInfo, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "tools/list",
	}

	resp, err := e.sendRequest(req)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list error: %s", resp.Error.Message)
	}

	toolsData, ok := resp.Result["tools"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid tools response format")
	}

	var tools []ToolInfo
	for _, t := range toolsData {
		toolMap, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		if name == "" {
			continue
		}
		description, _ := toolMap["description"].(string)
		info := ToolInfo{Name: name, Description: description}
		if schema, ok := toolMap["inputSchema"].(map[string]interface{}); ok {
			info.InputSchema = schema
		}
		tools = append(tools, info)
	}

	return tools, nil
}

// CallTool executes a tool on the server and returns its decoded result.
func (e *Executor) CallTool(tool string, params map[string]interface{}) (interface{}, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      tool,
			"arguments": params,
		},
	}

	resp, err := e.sendRequest(req)
	if err != nil {
		return nil, fmt.Errorf("tools/call failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool error: %s", resp.Error.Message)
	}

	content, ok := resp.Result["content"].([]interface{})
	if !ok || len(content) == 0 {
		// Some tools return empty content on success; hand back whatever
		// result data exists.
		if len(resp.Result) > 0 {
			return resp.Result, nil
		}
		return nil, nil
	}

	first, ok := content[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid content format")
	}

	if text, ok := first["text"].(string); ok {
		// Tool results are usually JSON encoded as text; decode when possible.
		var decoded interface{}
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			return decoded, nil
		}
		return text, nil
	}
	if data, ok := first["data"]; ok {
		return data, nil
	}

	return nil, fmt.Errorf("no text in content")
}

// Alive reports whether the child process is still running.
func (e *Executor) Alive() bool {
	return e.cmd != nil && e.cmd.ProcessState == nil
}

// sendRequest assigns the request id, sends the request, and waits for the
// response. The id is assigned under the same lock that serializes the
// write/read cycle, so concurrent callers stay race free. Non-JSON lines on
// stdout (server logs) are skipped.
func (e *Executor) sendRequest(req jsonRPCRequest) (*jsonRPCResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.requestID++
	req.ID = e.requestID

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, err := e.writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}

	const maxAttempts = 100
	for attempt := 0; attempt < maxAttempts; attempt++ {
		line, err := e.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var resp jsonRPCResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			continue
		}
		return &resp, nil
	}

	return nil, fmt.Errorf("no valid JSON-RPC response after %d lines", maxAttempts)
}

// Close terminates the tool server: stdin is closed to signal shutdown, then
// the process gets shutdownGrace to exit before being killed.
func (e *Executor) Close() error {
	if e.stdin != nil {
		e.stdin.Close()
	}

	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Printf("[MCP %s] did not exit within %v, killing", e.name, shutdownGrace)
		e.cmd.Process.Kill()
		<-done
	}

	if e.stdout != nil {
		e.stdout.Close()
	}
	if e.stderr != nil {
		e.stderr.Close()
	}
	return nil
}
