package port

import (
	"net"
	"os"
	"testing"

	"github.com/roughcut-mcp/studio-broker/pkg/apperr"
	"github.com/stretchr/testify/require"
)

func TestValidateSafetyRejectsPrivileged(t *testing.T) {
	a := New(NewRange(3000, 3020, nil))
	safe, reason := a.ValidateSafety(80)
	require.False(t, safe)
	require.Contains(t, reason, "privileged")
}

func TestValidateSafetyRejectsDenyListed(t *testing.T) {
	a := New(NewRange(3000, 3020, []int{3002}))
	safe, reason := a.ValidateSafety(3002)
	require.False(t, safe)
	require.Contains(t, reason, "reserved")
}

func TestValidateSafetyAcceptsOrdinaryPort(t *testing.T) {
	a := New(NewRange(3000, 3020, []int{3002}))
	safe, _ := a.ValidateSafety(3005)
	require.True(t, safe)
}

func TestFindAvailablePrefersPreferred(t *testing.T) {
	a := New(NewRange(3000, 3020, []int{3002}))
	info, err := a.FindAvailable(3010)
	require.NoError(t, err)
	require.Equal(t, 3010, info.Port)
	require.True(t, info.Available)
}

func TestFindAvailableNeverReturnsDenyListedOrPrivileged(t *testing.T) {
	a := New(NewRange(3000, 3020, []int{3000, 3001, 3002}))
	info, err := a.FindAvailable(0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, info.Port, 1024)
	require.NotContains(t, []int{3000, 3001, 3002}, info.Port)
}

func TestFindAvailableFallsBackWhenPreferredIsBusy(t *testing.T) {
	// Occupy a port first so the allocator must scan past it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busyPort := ln.Addr().(*net.TCPAddr).Port

	a := New(NewRange(busyPort, busyPort+5, nil))
	info, err := a.FindAvailable(busyPort)
	require.NoError(t, err)
	require.NotEqual(t, busyPort, info.Port)
}

func TestFindAvailableExhaustedRange(t *testing.T) {
	a := New(NewRange(1, 1, nil)) // port 1 is privileged, always skipped
	_, err := a.FindAvailable(0)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.Studio, appErr.Kind)
}

func TestListInUseMarksKnownSystemService(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busyPort := ln.Addr().(*net.TCPAddr).Port

	a := New(NewRange(busyPort, busyPort, []int{busyPort}))
	inUse := a.ListInUse()
	require.Len(t, inUse, 1)
	require.False(t, inUse[0].Available)
	require.NotNil(t, inUse[0].Conflict)
	require.True(t, inUse[0].Conflict.KnownSystemService)
}

func TestIsAliveForCurrentProcess(t *testing.T) {
	require.True(t, IsAlive(os.Getpid()))
}

func TestIsAliveForBogusPid(t *testing.T) {
	require.False(t, IsAlive(999999))
}

func TestKillBogusPidDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		Kill(999999, false)
	})
}
