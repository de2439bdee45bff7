// Package hostenv wraps the privileged host operations the benchmark
// depends on: dropping the OS page cache between attempts so every run
// starts cold, and reclaiming the service port from stale occupants.
// Both are best-effort; failures are reported but never fatal.
package hostenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

const dropCachesPath = "/proc/sys/vm/drop_caches"

// DropCaches flushes dirty pages and asks the kernel to drop the page
// cache. Requires root; callers treat an error as a warning only.
func DropCaches(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "sync").Run(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if err := os.WriteFile(dropCachesPath, []byte("3\n"), 0200); err != nil {
		return fmt.Errorf("failed to drop caches: %w", err)
	}
	return nil
}

// FreePort kills whatever process currently holds the TCP port.
// Best-effort: if nothing holds the port, or fuser is unavailable, the
// error is returned for logging and the subsequent bind attempt will
// surface any real conflict.
func FreePort(ctx context.Context, port int) error {
	cmd := exec.CommandContext(ctx, "fuser", "-k", fmt.Sprintf("%d/tcp", port))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fuser -k %d/tcp: %w", port, err)
	}
	return nil
}
