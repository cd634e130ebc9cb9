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

package studio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roughcut-mcp/studio-broker/pkg/port"
)

func newTestManager(t *testing.T, build commandBuilder) *Manager {
	t.Helper()
	alloc := port.New(port.NewRange(40100, 40120, nil))
	m := New(alloc, nil, Options{})
	if build != nil {
		m.newCommand = build
	}
	return m
}

func fakeProjectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"fake"}`), 0o644))
	return dir
}

// readyCommand builds a command that immediately prints the readiness
// line "server running", so attemptSpawn's stdout scan fires without a
// real renderer install.
func readyCommand(ctx context.Context, runner, cli, projectPath string, p int) *exec.Cmd {
	script := "echo 'server running'; sleep 5"
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = projectPath
	return cmd
}

func fatalCommand(ctx context.Context, runner, cli, projectPath string, p int) *exec.Cmd {
	script := "echo 'fatal: cannot start' 1>&2; sleep 5"
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = projectPath
	return cmd
}

func TestLaunchRejectsProjectWithoutPackageManifest(t *testing.T) {
	m := newTestManager(t, readyCommand)

	_, err := m.Launch(context.Background(), LaunchOptions{ProjectPath: t.TempDir()})
	require.Error(t, err)
}

func TestLaunchSpawnsAndTracksOnReadySignal(t *testing.T) {
	m := newTestManager(t, readyCommand)
	dir := fakeProjectDir(t)

	result, err := m.Launch(context.Background(), LaunchOptions{ProjectPath: dir, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.False(t, result.Reused)
	require.NotZero(t, result.Process.PID)

	status := m.Status()
	require.Len(t, status, 1)
	require.Equal(t, result.Process.PID, status[0].PID)

	killed := m.Shutdown(ShutdownOptions{All: true, Force: true})
	require.Len(t, killed, 1)
	require.Empty(t, m.Status())
}

func TestLaunchWithoutDiscovererAlwaysRespawnsOnRelaunch(t *testing.T) {
	// isResponsive consults the discoverer to confirm reuse is safe; with
	// disc == nil it always returns false, so a second Launch call for an
	// already-tracked project kills the old instance and spawns a new one
	// rather than silently reusing a process nobody can verify.
	m := newTestManager(t, readyCommand)
	dir := fakeProjectDir(t)

	first, err := m.Launch(context.Background(), LaunchOptions{ProjectPath: dir, Timeout: 5 * time.Second})
	require.NoError(t, err)

	second, err := m.Launch(context.Background(), LaunchOptions{ProjectPath: dir, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.False(t, second.Reused)
	require.NotEqual(t, first.Process.PID, second.Process.PID)

	m.Shutdown(ShutdownOptions{All: true, Force: true})
}

func TestLaunchReturnsStudioErrorOnFatalStderr(t *testing.T) {
	m := newTestManager(t, fatalCommand)
	dir := fakeProjectDir(t)

	_, err := m.Launch(context.Background(), LaunchOptions{ProjectPath: dir, Timeout: 5 * time.Second})
	require.Error(t, err)
}

func TestShutdownFiltersByPort(t *testing.T) {
	m := newTestManager(t, nil)
	m.add(&Process{PID: 111, Port: 40101, ProjectPath: "/a"})
	m.add(&Process{PID: 222, Port: 40102, ProjectPath: "/b"})

	killed := m.Shutdown(ShutdownOptions{Port: 40101, Force: true})
	require.Len(t, killed, 1)
	require.Equal(t, 40101, killed[0].Port)

	remaining := m.Status()
	require.Len(t, remaining, 1)
	require.Equal(t, 222, remaining[0].PID)
}

func TestCleanupPrunesDeadProcesses(t *testing.T) {
	m := newTestManager(t, nil)
	m.add(&Process{PID: 0, Port: 40103, ProjectPath: "/dead"})

	pruned := m.Cleanup()
	require.Len(t, pruned, 1)
	require.Empty(t, m.Status())
}
