package plot

import (
	"context"
	"os/exec"
	"runtime"

	"dexpr/internal/errors"
)

// Open hands an image to the desktop's default viewer and waits for the launcher to return
func Open(ctx context.Context, path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", path)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", path)
	}
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	return nil
}
