package ui

import (
	"os/exec"
	"runtime"
)

// OpenBrowser hands url to the platform's opener (open on macOS, xdg-open
// elsewhere) and returns without waiting for the browser.
func OpenBrowser(url string) error {
	name := "xdg-open"
	if runtime.GOOS == "darwin" {
		name = "open"
	}
	cmd := exec.Command(name, url)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
