//go:build unix

// File: internal/mcp/procgroup_unix_test.go
package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// processGone treats zombies as gone; the reaper may lag behind the kill.
func processGone(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return true
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func TestProcessGroupTeardown(t *testing.T) {
	t.Run("should start the tool server in its own process group", func(t *testing.T) {
		p, err := StartProcess(context.Background(), helperConfig("server"), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer p.Close(context.Background())

		require.NotNil(t, p.cmd.SysProcAttr)
		assert.True(t, p.cmd.SysProcAttr.Setpgid)
		pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
		require.NoError(t, err)
		assert.Equal(t, p.cmd.Process.Pid, pgid)
	})

	t.Run("should kill descendants that outlive the server", func(t *testing.T) {
		cfg := helperConfig("spawner")
		cfg.StartupGrace = 200 * time.Millisecond
		p, err := StartProcess(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)

		pidFile := filepath.Join(p.WorkDir(), "child.pid")
		var childPid int
		require.Eventually(t, func() bool {
			raw, err := os.ReadFile(pidFile)
			if err != nil || len(raw) == 0 {
				return false
			}
			childPid, err = strconv.Atoi(string(raw))
			return err == nil
		}, 5*time.Second, 20*time.Millisecond)
		require.False(t, processGone(childPid))

		require.NoError(t, p.Close(context.Background()))
		assert.False(t, p.Alive())
		assert.Eventually(t, func() bool { return processGone(childPid) }, 5*time.Second, 20*time.Millisecond,
			"grandchild %d survived tool server teardown", childPid)
	})
}
