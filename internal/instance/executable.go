package instance

import (
	"os"
	"path/filepath"
)

// executableCandidates lists browser binaries in search order.
func executableCandidates() []string {
	return []string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe",
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("USERPROFILE"), `AppData\Local\Google\Chrome\Application\chrome.exe`),

		// macOS
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	}
}

// FindExecutable returns the first candidate browser that lookPath resolves.
func FindExecutable(lookPath func(string) (string, error)) (string, error) {
	for _, name := range executableCandidates() {
		if path, err := lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrExecutableNotFound
}
