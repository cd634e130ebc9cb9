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

// Package discovery identifies live renderer instances by scanning a port
// range over HTTP, classifying responses by signature substring, and
// best-effort scraping project identity out of the served HTML.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roughcut-mcp/studio-broker/pkg/port"
)

// probeTimeout bounds the per-port HTTP GET.
const probeTimeout = 2 * time.Second

// userAgent identifies discovery probes to the renderer's dev server.
const userAgent = "RoughCut-MCP-Discovery"

// signatures is the closed set of case-insensitive substrings that mark a
// response body as belonging to a renderer instance.
var signatures = []string{"remotion", "webpack", "__webpack", "composition"}

// Process describes a discovered (or, from the lifecycle's point of view,
// launched) renderer instance.
type Process struct {
	PID      int // 0 if discovered via HTTP only, not spawned by us
	Port     int
	Responsive bool

	ProjectPath string
	ProjectName string

	StartTime        time.Time
	LastObservedAt   time.Time
	DiscoveryMethod  string // "http-scan" or "spawned"
}

// Result is the outcome of a full-range discovery sweep.
type Result struct {
	Total     int
	Renderers []Process
	Other     []Process
	Conflicts []port.Info
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Discoverer scans a configured port range for renderer instances.
type Discoverer struct {
	rng        port.Range
	client     *http.Client
	parallel   int
}

// New creates a Discoverer over rng. parallel bounds the number of
// concurrent HTTP probes in flight; 0 means sequential (parallel=1).
func New(rng port.Range, parallel int) *Discoverer {
	if parallel <= 0 {
		parallel = 1
	}
	return &Discoverer{
		rng:      rng,
		parallel: parallel,
		client: &http.Client{
			Timeout: probeTimeout,
			// Never follow redirects: a redirecting responder on a
			// scanned port is not evidence either way, and following
			// it could escape loopback.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Discover scans the full configured range. Scanning is parallelized with
// bounded fan-out, but total wall-clock must never
// exceed the sequential worst case (range-width × probeTimeout); capping
// the errgroup's concurrency to the Discoverer's configured parallelism
// (never more than the range width) preserves that bound.
func (d *Discoverer) Discover(ctx context.Context) Result {
	width := d.rng.End - d.rng.Start + 1
	limit := d.parallel
	if limit > width {
		limit = width
	}

	var mu sync.Mutex
	result := Result{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for p := d.rng.Start; p <= d.rng.End; p++ {
		p := p
		g.Go(func() error {
			proc := d.discoverByPortLocked(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			result.Total++
			if proc == nil {
				return nil
			}
			if isRenderer(proc.lastBody) {
				result.Renderers = append(result.Renderers, proc.Process)
			} else {
				result.Other = append(result.Other, proc.Process)
			}
			return nil
		})
	}
	// errgroup with a bounded semaphore never returns an error here since
	// discoverByPortLocked never returns one; ignore defensively.
	_ = g.Wait()

	return result
}

type probeResult struct {
	Process
	lastBody string
}

func (d *Discoverer) discoverByPortLocked(ctx context.Context, p int) *probeResult {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/", p)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	bodyStr := string(body)

	proc := Process{
		Port:            p,
		Responsive:      true,
		LastObservedAt:  time.Now(),
		DiscoveryMethod: "http-scan",
	}
	proc.ProjectName = extractProjectName(bodyStr)

	return &probeResult{Process: proc, lastBody: bodyStr}
}

// DiscoverByPort probes a single port and returns the discovered Process,
// or nil if nothing responds there.
func (d *Discoverer) DiscoverByPort(ctx context.Context, p int) *Process {
	r := d.discoverByPortLocked(ctx, p)
	if r == nil {
		return nil
	}
	return &r.Process
}

// isRenderer reports whether body contains at least one of the closed set
// of renderer signature substrings, case-insensitively.
func isRenderer(body string) bool {
	lower := strings.ToLower(body)
	for _, sig := range signatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// extractProjectName best-effort scrapes the <title> element. Absence is
// not an error: it simply yields an empty name.
func extractProjectName(body string) string {
	m := titleRe.FindStringSubmatch(body)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// IsAlive performs a signal-0 liveness probe on pid.
func IsAlive(pid int) bool {
	return port.IsAlive(pid)
}
