package mcp

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	cache "github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
)

// Server status values. Mutation goes through UpdateStatus only.
const (
	StatusRunning     = "running"
	StatusUnreachable = "unreachable"
	StatusStopped     = "stopped"
)

// toolCaller abstracts the transport behind a server (HTTP or child process).
type toolCaller interface {
	CallTool(ctx context.Context, tool string, params map[string]interface{}) (interface{}, error)
}

// executorCaller adapts the stdio Executor to the toolCaller interface.
type executorCaller struct {
	exec *Executor
}

func (a *executorCaller) CallTool(ctx context.Context, tool string, params map[string]interface{}) (interface{}, error) {
	type callResult struct {
		result interface{}
		err    error
	}
	ch := make(chan callResult, 1)
	go func() {
		result, err := a.exec.CallTool(tool, params)
		ch <- callResult{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.result, r.err
	}
}

// Server is one registered tool server with its transport and liveness state.
type Server struct {
	Name       string
	Config     ServerConfig
	status     string
	errorCount int
	lastCheck  time.Time

	caller   toolCaller
	executor *Executor   // set for process servers, owned by the registry
	http     *HTTPClient // set for HTTP servers
}

// ServerHealth is the per-server view in the aggregate health report.
type ServerHealth struct {
	Status     string    `json:"status"`
	ErrorCount int       `json:"error_count"`
	LastCheck  time.Time `json:"last_check"`
	Error      string    `json:"error,omitempty"`
}

// Health is the aggregate reachability report for all registered servers.
type Health struct {
	Healthy        bool                    `json:"healthy"`
	Servers        map[string]ServerHealth `json:"servers"`
	TotalServers   int                     `json:"total_servers"`
	RunningServers int                     `json:"running_servers"`
	FailedServers  int                     `json:"failed_servers"`
}

// resultCacheTTL bounds how long market-style tool results are reused
// across queries before being fetched again.
const resultCacheTTL = 30 * time.Second

// Registry holds the configured tool servers and dispatches tool calls to
// them. It is constructed once per process and shared across request
// handlers; status updates go through UpdateStatus, never ambient writes.
type Registry struct {
	mu         sync.RWMutex
	servers    map[string]*Server
	configPath string

	results *cache.Cache
	cron    *cron.Cron
	watcher *fsnotify.Watcher
}

// NewRegistry creates an empty registry bound to a config file path.
func NewRegistry(configPath string) *Registry {
	return &Registry{
		servers:    make(map[string]*Server),
		configPath: configPath,
		results:    cache.New(resultCacheTTL, time.Minute),
	}
}

// Initialize loads the config file and brings up every active server.
// A server that fails to come up is registered as unreachable rather than
// dropped, so health reporting still sees it; the agent works with whatever
// subset is available.
func (r *Registry) Initialize(ctx context.Context) error {
	cfg, err := LoadConfig(r.configPath)
	if err != nil {
		return err
	}

	running := 0
	for name, sc := range cfg.Servers {
		server := r.initServer(ctx, name, sc)
		r.mu.Lock()
		r.servers[name] = server
		r.mu.Unlock()
		if server.status == StatusRunning {
			running++
		}
	}

	log.Printf("🔌 [MCP] Initialized %d/%d tool servers", running, len(cfg.Servers))
	if running == 0 && len(cfg.Servers) > 0 {
		log.Printf("⚠️  [MCP] No tool servers reachable, agent will answer without tool data")
	}
	return nil
}

func (r *Registry) initServer(ctx context.Context, name string, sc ServerConfig) *Server {
	server := &Server{Name: name, Config: sc, status: StatusStopped, lastCheck: time.Now()}

	switch {
	case sc.URL != "":
		client := NewHTTPClient(sc.URL)
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			log.Printf("⚠️  [MCP] Server %s unreachable: %v", name, err)
			server.status = StatusUnreachable
		} else {
			server.status = StatusRunning
		}
		server.http = client
		server.caller = &httpCaller{client}
	case sc.Command != "":
		exec, err := NewExecutor(name, sc)
		if err != nil {
			log.Printf("⚠️  [MCP] Failed to start server %s: %v", name, err)
			server.status = StatusUnreachable
		} else {
			server.executor = exec
			server.caller = &executorCaller{exec}
			server.status = StatusRunning
		}
	default:
		log.Printf("⚠️  [MCP] Server %s has neither url nor command, skipping", name)
		server.status = StatusUnreachable
	}

	return server
}

// httpCaller adapts HTTPClient to toolCaller.
type httpCaller struct {
	client *HTTPClient
}

func (h *httpCaller) CallTool(ctx context.Context, tool string, params map[string]interface{}) (interface{}, error) {
	return h.client.CallTool(ctx, tool, params)
}

// Register adds or replaces a server with an explicit transport. Used by
// tests and by config reload.
func (r *Registry) Register(name string, caller toolCaller, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[name] = &Server{
		Name:      name,
		status:    status,
		caller:    caller,
		lastCheck: time.Now(),
	}
}

// CallTool invokes a named tool on a server. Calls to unknown or unreachable
// servers fail fast with a ServerError and no network I/O. Successful
// results are cached briefly under their composite key.
func (r *Registry) CallTool(ctx context.Context, serverName, tool string, params map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	server, ok := r.servers[serverName]
	r.mu.RUnlock()

	if !ok {
		return nil, NewServerError(serverName, "server not found")
	}
	if server.status != StatusRunning {
		return nil, NewServerError(serverName, "server is not running (status: %s)", server.status)
	}

	key := ResultKey(serverName, tool, params)
	if cached, found := r.results.Get(key); found {
		return cached, nil
	}

	result, err := server.caller.CallTool(ctx, tool, params)
	if err != nil {
		r.mu.Lock()
		server.errorCount++
		r.mu.Unlock()
		return nil, NewServerError(serverName, "tool call failed: %v", err)
	}

	r.results.Set(key, result, cache.DefaultExpiration)
	return result, nil
}

// IsReachable reports whether the named server is currently running.
func (r *Registry) IsReachable(serverName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, ok := r.servers[serverName]
	return ok && server.status == StatusRunning
}

// UpdateStatus sets a server's liveness state. This is the only sanctioned
// mutation path for status.
func (r *Registry) UpdateStatus(serverName, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if server, ok := r.servers[serverName]; ok {
		server.status = status
		server.lastCheck = time.Now()
	}
}

// ListTools returns the tools advertised by one server.
func (r *Registry) ListTools(ctx context.Context, serverName string) ([]ToolInfo, error) {
	r.mu.RLock()
	server, ok := r.servers[serverName]
	r.mu.RUnlock()

	if !ok {
		return nil, NewServerError(serverName, "server not found")
	}
	if server.executor != nil {
		return server.executor.ListTools()
	}

	// HTTP servers expose listing through the call interface.
	result, err := r.CallTool(ctx, serverName, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	return decodeToolList(result), nil
}

func decodeToolList(result interface{}) []ToolInfo {
	items, ok := result.([]interface{})
	if !ok {
		return nil
	}
	var tools []ToolInfo
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := m["description"].(string)
		tools = append(tools, ToolInfo{Name: name, Description: desc})
	}
	return tools
}

// ServerNames returns the names of all registered servers, sorted.
func (r *Registry) ServerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheck probes every server and returns the aggregate health view.
// Process servers are checked by process liveness, HTTP servers by ping.
func (r *Registry) HealthCheck(ctx context.Context) Health {
	r.mu.RLock()
	servers := make(map[string]*Server, len(r.servers))
	for name, server := range r.servers {
		servers[name] = server
	}
	r.mu.RUnlock()

	health := Health{
		Healthy:      true,
		Servers:      make(map[string]ServerHealth),
		TotalServers: len(servers),
	}

	for name, server := range servers {
		var healthy bool
		var checkErr string

		switch {
		case server.executor != nil:
			healthy = server.executor.Alive()
		case server.http != nil:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := server.http.Ping(pingCtx)
			cancel()
			healthy = err == nil
			if err != nil {
				checkErr = err.Error()
			}
		default:
			healthy = server.status == StatusRunning
		}

		status := StatusUnreachable
		if healthy {
			status = StatusRunning
			health.RunningServers++
		} else {
			health.FailedServers++
			health.Healthy = false
		}
		r.UpdateStatus(name, status)

		r.mu.RLock()
		errorCount := server.errorCount
		lastCheck := server.lastCheck
		r.mu.RUnlock()

		health.Servers[name] = ServerHealth{
			Status:     status,
			ErrorCount: errorCount,
			LastCheck:  lastCheck,
			Error:      checkErr,
		}
	}

	return health
}

// StartHealthLoop schedules periodic reachability checks so servers that
// come back are marked running again without a restart.
func (r *Registry) StartHealthLoop() {
	r.cron = cron.New()
	r.cron.AddFunc("@every 1m", func() {
		health := r.HealthCheck(context.Background())
		if !health.Healthy {
			log.Printf("⚠️  [MCP] Health check: %d/%d servers running",
				health.RunningServers, health.TotalServers)
		}
	})
	r.cron.Start()
}

// WatchConfig reloads the registry when the config file changes on disk.
func (r *Registry) WatchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(r.configPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.configPath, err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Printf("🔄 [MCP] Config file changed, reloading tool servers")
					if err := r.Reload(ctx); err != nil {
						log.Printf("⚠️  [MCP] Reload failed: %v", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  [MCP] Config watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Reload tears down servers removed from config and initializes new ones.
func (r *Registry) Reload(ctx context.Context) error {
	cfg, err := LoadConfig(r.configPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for name, server := range r.servers {
		if _, keep := cfg.Servers[name]; !keep {
			if server.executor != nil {
				server.executor.Close()
			}
			delete(r.servers, name)
			log.Printf("🔌 [MCP] Server %s removed from config", name)
		}
	}
	existing := make(map[string]bool, len(r.servers))
	for name := range r.servers {
		existing[name] = true
	}
	r.mu.Unlock()

	for name, sc := range cfg.Servers {
		if existing[name] {
			continue
		}
		server := r.initServer(ctx, name, sc)
		r.mu.Lock()
		r.servers[name] = server
		r.mu.Unlock()
	}
	return nil
}

// Close stops the health loop, the config watcher, and every process server.
func (r *Registry) Close() {
	if r.cron != nil {
		r.cron.Stop()
	}
	if r.watcher != nil {
		r.watcher.Close()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, server := range r.servers {
		if server.executor != nil {
			if err := server.executor.Close(); err != nil {
				log.Printf("⚠️  [MCP] Error terminating server %s: %v", name, err)
			}
		}
	}
	log.Printf("🔌 [MCP] Registry closed")
}

// ResultKey builds the composite attribution key for a tool invocation.
// Identically named tools called with different parameters (price lookups
// for different symbols) get distinct keys.
func ResultKey(server, tool string, params map[string]interface{}) string {
	if len(params) == 0 {
		return server + "." + tool
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return fmt.Sprintf("%s.%s(%s)", server, tool, strings.Join(parts, ","))
}
