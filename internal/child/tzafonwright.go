package child

import (
	"context"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// StartTzafonwright launches the python automation helper via uv, pointed
// at Chrome's DevTools endpoint. exited is called if it dies on its own.
func StartTzafonwright(ctx context.Context, folder, cdpURL string, port int, exited func(error), logger *zap.Logger) error {
	cmd := exec.Command("uv",
		"run", "src/tzafonwright/server.py",
		"--port", strconv.Itoa(port),
		"--cdp-url", cdpURL,
	)
	cmd.Dir = folder
	return Start(ctx, cmd, exited, Options{Name: "Tzafonwright", Logger: logger})
}
