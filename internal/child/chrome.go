package child

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// chromeUID is the unprivileged account Chrome runs as inside the
// container image.
const chromeUID = 1337

// devtoolsStartupTimeout bounds the wait for Chrome to announce its
// DevTools endpoint.
const devtoolsStartupTimeout = 30 * time.Second

// chromeArgs configures headless operation with minimal resource usage.
// The debugging port is ephemeral; the published URL is scraped from
// stderr.
var chromeArgs = []string{
	"--headless",
	"--no-sandbox",
	"--disable-gpu",
	"--remote-debugging-port=0",
	"--remote-debugging-address=127.0.0.1",
	"--disable-background-networking",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-breakpad",
	"--disable-component-extensions-with-background-pages",
	"--disable-domain-reliability",
	"--disable-extensions",
	"--disable-features=TranslateUI",
	"--disable-hang-monitor",
	"--disable-ipc-flooding-protection",
	"--disable-popup-blocking",
	"--disable-dev-shm-usage",
	"--disable-sync",
	"--mute-audio",
	"--no-first-run",
	"--disable-prompt-on-repost",
	"--disable-default-apps",
	"--use-gl=swiftshader",
	"--window-size=1280,720",
	"--verbose",
	"--log-level=DEBUG",
}

// StartChrome launches headless Chrome and returns the DevTools WebSocket
// URL it announces on stderr. exited is called if Chrome dies on its own.
func StartChrome(ctx context.Context, binaryPath string, exited func(error), logger *zap.Logger) (string, error) {
	cmd := exec.Command(binaryPath, chromeArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: chromeUID, Gid: chromeUID},
	}

	urlCh := make(chan string, 1)
	delivered := false
	err := Start(ctx, cmd, exited, Options{
		Name:   "Chrome",
		Logger: logger,
		StderrLine: func(line string) {
			if delivered || !strings.Contains(line, "DevTools listening on") {
				return
			}
			delivered = true
			urlCh <- parseDevToolsURL(line)
		},
	})
	if err != nil {
		return "", err
	}

	select {
	case url := <-urlCh:
		logger.Info("Chrome DevTools ready", zap.String("url", url))
		return url, nil
	case <-time.After(devtoolsStartupTimeout):
		return "", fmt.Errorf("chrome did not announce DevTools within %s", devtoolsStartupTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// parseDevToolsURL extracts the URL from the "DevTools listening on
// ws://..." stderr line: the last space-separated token.
func parseDevToolsURL(line string) string {
	fields := strings.Split(line, " ")
	return fields[len(fields)-1]
}
