// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package studio orchestrates the end-to-end lifecycle of a renderer
// studio instance: launch (with reuse and retry), shutdown, status, and
// stale-bookkeeping cleanup, built on top of pkg/port and pkg/discovery.
package studio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/roughcut-mcp/studio-broker/pkg/apperr"
	"github.com/roughcut-mcp/studio-broker/pkg/discovery"
	"github.com/roughcut-mcp/studio-broker/pkg/port"
)

const component = "studio"

// MaxStartupAttempts bounds the launch retry loop.
const MaxStartupAttempts = 3

// DefaultTimeout is the per-attempt absolute ceiling from spawn, used when
// LaunchOptions.Timeout is zero.
const DefaultTimeout = 60 * time.Second

const validatePollInterval = 2 * time.Second

// readyTokens are the stdout substrings that signal a successful studio
// startup.
var readyTokens = []string{"ready", "server running"}

// fatalMarkers combined with "error" in a stderr line mark a fatal
// startup failure.
var fatalMarkers = []string{"fatal", "cannot", "failed"}

// Process is a studio instance the lifecycle manager is tracking, whether
// spawned by Launch or reused from an existing responsive instance.
type Process struct {
	PID         int
	Port        int
	ProjectPath string
	StartTime   time.Time
}

// LaunchOptions parameterizes Launch.
type LaunchOptions struct {
	ProjectPath      string
	PreferredPort    int
	ForceNewInstance bool
	Timeout          time.Duration
	Validate         bool
}

// LaunchResult is the outcome of a successful Launch call.
type LaunchResult struct {
	Reused  bool
	Process Process
}

// ShutdownOptions selects the target(s) for Shutdown.
type ShutdownOptions struct {
	Port  int
	PID   int
	All   bool
	Force bool
}

// Options configures a Manager.
type Options struct {
	Logger        *slog.Logger
	PackageRunner string // defaults to "npx"
	RendererCLI   string // defaults to "remotion"
}

// commandBuilder constructs the child-process command for one launch
// attempt. Exposed as a field rather than hard-coded exec.Command calls so
// tests can substitute a fake renderer script without a real install.
type commandBuilder func(ctx context.Context, runner, cli, projectPath string, port int) *exec.Cmd

// Manager is the broker's studio lifecycle orchestrator. It wraps a
// port.Allocator and a discovery.Discoverer with a spawn/retry/reuse
// protocol, tracking every instance it spawned or reused
// in an in-memory slice (not a pid-keyed map: discovered-but-unspawned
// instances may have an unknown pid of 0, which would collide).
type Manager struct {
	alloc *port.Allocator
	disc  *discovery.Discoverer
	log   *slog.Logger
	plog  hclog.Logger

	packageRunner string
	rendererCLI   string
	newCommand    commandBuilder

	sf singleflight.Group

	mu        sync.Mutex
	processes []*Process
}

// New constructs a Manager over alloc and disc.
func New(alloc *port.Allocator, disc *discovery.Discoverer, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PackageRunner == "" {
		opts.PackageRunner = "npx"
	}
	if opts.RendererCLI == "" {
		opts.RendererCLI = "remotion"
	}
	return &Manager{
		alloc:         alloc,
		disc:          disc,
		log:           opts.Logger,
		plog:          newProcessLogger(opts.Logger),
		packageRunner: opts.PackageRunner,
		rendererCLI:   opts.RendererCLI,
		newCommand:    defaultCommandBuilder,
	}
}

// newProcessLogger builds the hclog.Logger used for child-process
// supervision (hclog.New over an *hclog.LoggerOptions), pointed at the
// broker's own sink.
func newProcessLogger(sink *slog.Logger) hclog.Logger {
	level := hclog.Info
	if sink != nil && sink.Enabled(context.Background(), slog.LevelDebug) {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "studio-child",
		Level:  level,
		Output: os.Stderr,
	})
}

// defaultCommandBuilder invokes "<runner> <cli> studio --port <port>" with
// cwd = projectPath. Stdin is left nil (detached): reads against it return EOF
// immediately rather than blocking on an interactive terminal.
//
// This deliberately uses exec.Command rather than exec.CommandContext:
// the renderer is meant to keep running as a long-lived server well past
// the point the launch attempt's own readiness wait ends, so its lifetime
// must not be tied to that wait's context. Timeout enforcement is done
// explicitly in attemptSpawn via port.Kill.
func defaultCommandBuilder(ctx context.Context, runner, cli, projectPath string, p int) *exec.Cmd {
	args := []string{cli, "studio", "--port", strconv.Itoa(p)}
	cmd := exec.Command(runner, args...)
	cmd.Dir = projectPath
	cmd.Env = os.Environ()
	if runtime.GOOS == "windows" {
		// npm/npx package-manager shims on Windows are .cmd batch files,
		// which require the shell to parse and re-exec; exec.Command
		// resolves "npx" via PATHEXT-aware lookup on Windows already, so
		// no extra shell wrapper is needed here beyond what os/exec does.
		cmd.SysProcAttr = nil
	}
	return cmd
}

// hasPackageManifest reports whether dir looks like a JS/TS renderer
// project: it exists and contains a package manifest.
func hasPackageManifest(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, "package.json"))
	return err == nil
}

func resolvePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Launch implements the launch protocol: validate, reuse, allocate,
// spawn-with-retry, optionally validate over HTTP, and record.
func (m *Manager) Launch(ctx context.Context, opts LaunchOptions) (LaunchResult, error) {
	if !hasPackageManifest(opts.ProjectPath) {
		return LaunchResult{}, apperr.New(apperr.Validation, component, "InvalidProject",
			fmt.Sprintf("project path %q does not exist or has no package manifest", opts.ProjectPath), nil)
	}
	resolved := resolvePath(opts.ProjectPath)

	// singleflight collapses concurrent Launch calls for the same
	// resolved path within this process into one spawn+validate sequence
	// (see DESIGN.md's resolution of the reuse-vs-dedup open question).
	v, err, _ := m.sf.Do(resolved, func() (any, error) {
		return m.launchLocked(ctx, opts, resolved)
	})
	if err != nil {
		return LaunchResult{}, err
	}
	return v.(LaunchResult), nil
}

func (m *Manager) launchLocked(ctx context.Context, opts LaunchOptions, resolved string) (LaunchResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if !opts.ForceNewInstance {
		if existing, ok := m.lookupExisting(ctx, resolved); ok {
			if m.isResponsive(ctx, existing.Port) {
				return LaunchResult{Reused: true, Process: *existing}, nil
			}
			if existing.PID > 0 {
				port.Kill(existing.PID, true)
			}
			m.remove(existing)
		}
	}

	info, err := m.alloc.FindAvailable(opts.PreferredPort)
	if err != nil {
		return LaunchResult{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxStartupAttempts; attempt++ {
		proc, err := m.attemptSpawn(ctx, resolved, info.Port, timeout)
		if err == nil {
			if opts.Validate {
				if verr := m.validateReady(ctx, proc.Port, timeout); verr != nil {
					port.Kill(proc.PID, true)
					lastErr = verr
					continue
				}
			}
			m.add(proc)
			return LaunchResult{Reused: false, Process: *proc}, nil
		}
		lastErr = err
		m.log.Warn("studio launch attempt failed", "project_path", resolved, "attempt", attempt, "error", err)
	}
	return LaunchResult{}, lastErr
}

// lookupExisting finds a renderer bound to resolved, first checking this
// Manager's own bookkeeping (exact resolved-path match), then falling
// back to a discovery sweep, accepting any renderer if exactly one
// exists overall.
func (m *Manager) lookupExisting(ctx context.Context, resolved string) (*Process, bool) {
	m.mu.Lock()
	for _, p := range m.processes {
		if p.ProjectPath == resolved {
			cp := *p
			m.mu.Unlock()
			return &cp, true
		}
	}
	m.mu.Unlock()

	if m.disc == nil {
		return nil, false
	}
	result := m.disc.Discover(ctx)
	if len(result.Renderers) == 1 {
		r := result.Renderers[0]
		return &Process{PID: r.PID, Port: r.Port, ProjectPath: resolved, StartTime: r.StartTime}, true
	}
	return nil, false
}

func (m *Manager) isResponsive(ctx context.Context, p int) bool {
	if m.disc == nil {
		return false
	}
	return m.disc.DiscoverByPort(ctx, p) != nil
}

// attemptSpawn runs one iteration of the launch attempt loop: spawn,
// monitor stdout/stderr for readiness or fatal failure, and enforce the
// absolute per-attempt timeout ceiling.
func (m *Manager) attemptSpawn(ctx context.Context, projectPath string, p int, timeout time.Duration) (*Process, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	cmd := m.newCommand(attemptCtx, m.packageRunner, m.rendererCLI, projectPath, p)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, apperr.New(apperr.Dependency, component, "launch", "failed to attach stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, apperr.New(apperr.Dependency, component, "launch", "failed to attach stderr", err)
	}
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, apperr.New(apperr.Dependency, component, "launch", "failed to spawn renderer process", err)
	}
	spawnedAt := time.Now()
	pid := cmd.Process.Pid

	readyCh := make(chan struct{}, 1)
	fatalCh := make(chan string, 1)
	go m.scanStdout(stdout, p, readyCh)
	go m.scanStderr(stderr, fatalCh)
	go func() { _ = cmd.Wait() }()

	halfway := time.After(timeout / 2)
	deadline := time.After(timeout)

	for {
		select {
		case <-readyCh:
			cancel()
			return &Process{PID: pid, Port: p, ProjectPath: projectPath, StartTime: spawnedAt}, nil
		case msg := <-fatalCh:
			port.Kill(pid, true)
			cancel()
			return nil, apperr.New(apperr.Studio, component, "launch",
				fmt.Sprintf("renderer reported a fatal startup error: %s", msg), nil)
		case <-halfway:
			if port.IsAlive(pid) {
				cancel()
				return &Process{PID: pid, Port: p, ProjectPath: projectPath, StartTime: spawnedAt}, nil
			}
		case <-deadline:
			port.Kill(pid, true)
			cancel()
			return nil, apperr.New(apperr.Studio, component, "StartupTimeout",
				fmt.Sprintf("renderer did not become ready within %s", timeout), nil).
				WithSeverity(apperr.SeverityWarning)
		}
	}
}

func (m *Manager) scanStdout(r io.Reader, p int, readyCh chan<- struct{}) {
	localhost := fmt.Sprintf("localhost:%d", p)
	sc := bufio.NewScanner(r)
	fired := false
	for sc.Scan() {
		line := sc.Text()
		m.plog.Debug(line)
		if fired {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(line, localhost) {
			fired = true
			readyCh <- struct{}{}
			continue
		}
		for _, tok := range readyTokens {
			if strings.Contains(lower, tok) {
				fired = true
				readyCh <- struct{}{}
				break
			}
		}
	}
}

func (m *Manager) scanStderr(r io.Reader, fatalCh chan<- string) {
	sc := bufio.NewScanner(r)
	fired := false
	for sc.Scan() {
		line := sc.Text()
		m.plog.Warn(line)
		if fired {
			continue
		}
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "error") {
			continue
		}
		for _, marker := range fatalMarkers {
			if strings.Contains(lower, marker) {
				fired = true
				fatalCh <- line
				break
			}
		}
	}
}

// validateReady probes http://127.0.0.1:<port> with HEAD up to timeout,
// polling every 2s, accepting any 2xx-4xx status and cross-checking with
// discovery that the responder is recognizable as a renderer.
func (m *Manager) validateReady(ctx context.Context, p int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: validatePollInterval}
	url := fmt.Sprintf("http://127.0.0.1:%d/", p)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err == nil {
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 500 {
					if m.disc == nil || m.disc.DiscoverByPort(ctx, p) != nil {
						return nil
					}
				}
			}
		}
		if time.Now().After(deadline) {
			return apperr.New(apperr.Network, component, "validate",
				fmt.Sprintf("renderer on port %d did not pass HTTP validation within %s", p, timeout), nil)
		}
		select {
		case <-ctx.Done():
			return apperr.New(apperr.Network, component, "validate", "validation canceled", ctx.Err())
		case <-time.After(validatePollInterval):
		}
	}
}

func (m *Manager) add(p *Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes = append(m.processes, p)
}

func (m *Manager) remove(target *Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.processes {
		if p.PID == target.PID && p.Port == target.Port {
			m.processes = append(m.processes[:i], m.processes[i+1:]...)
			return
		}
	}
}

// Shutdown resolves targets by port, pid, or all, killing each (graceful
// then force after a short grace window, or immediately if opts.Force),
// and removes them from the in-memory process list.
func (m *Manager) Shutdown(opts ShutdownOptions) []Process {
	m.mu.Lock()
	var targets []*Process
	var remaining []*Process
	for _, p := range m.processes {
		matches := opts.All ||
			(opts.Port != 0 && p.Port == opts.Port) ||
			(opts.PID != 0 && p.PID == opts.PID)
		if matches {
			targets = append(targets, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	m.processes = remaining
	m.mu.Unlock()

	killed := make([]Process, 0, len(targets))
	for _, p := range targets {
		killGraceful(p.PID, opts.Force)
		killed = append(killed, *p)
	}
	return killed
}

// killGraceful sends a graceful termination signal first, then escalates
// to SIGKILL after a short wait if the process is still alive.
// A caller-requested force skips straight to SIGKILL.
func killGraceful(pid int, force bool) {
	if force {
		port.Kill(pid, true)
		return
	}
	port.Kill(pid, false)
	time.Sleep(200 * time.Millisecond)
	if port.IsAlive(pid) {
		port.Kill(pid, true)
	}
}

// Status returns a snapshot of every instance currently tracked.
func (m *Manager) Status() []Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Process, len(m.processes))
	for i, p := range m.processes {
		out[i] = *p
	}
	return out
}

// Cleanup prunes bookkeeping for processes that have died without going
// through Shutdown (e.g. the renderer crashed on its own), returning the
// pruned entries.
func (m *Manager) Cleanup() []Process {
	m.mu.Lock()
	var pruned []Process
	var alive []*Process
	for _, p := range m.processes {
		if p.PID > 0 && port.IsAlive(p.PID) {
			alive = append(alive, p)
		} else {
			pruned = append(pruned, *p)
		}
	}
	m.processes = alive
	m.mu.Unlock()
	return pruned
}
