package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mtkflash/internal/logging"
)

// DeviceName turns a device node path into a name usable as a directory.
func DeviceName(device string) string {
	name := filepath.Base(filepath.Clean(device))
	if name == "." || name == string(filepath.Separator) {
		return "unknown"
	}
	return strings.ReplaceAll(name, ":", "_")
}

func RunDir(baseDir string) string {
	return filepath.Join(baseDir, "run")
}

func LogDir(baseDir, device string) string {
	return filepath.Join(baseDir, "logs", DeviceName(device))
}

func CacheDir(baseDir string) string {
	return filepath.Join(baseDir, "cache")
}

func LogPath(baseDir, device string, now time.Time) string {
	return filepath.Join(LogDir(baseDir, device), now.Format("2006-01-02")+".log")
}

func ManifestDir(baseDir, device string) string {
	return filepath.Join(baseDir, "manifests", DeviceName(device))
}

func ManifestPath(baseDir, device string, now time.Time) string {
	return filepath.Join(ManifestDir(baseDir, device), now.Format("20060102T150405")+".yaml")
}

func LastFlashPath(baseDir, device string) string {
	return filepath.Join(ManifestDir(baseDir, device), "last_flash.yaml")
}

func LockPath(baseDir, device string) string {
	return filepath.Join(RunDir(baseDir), DeviceName(device)+".lock")
}

func SetupDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func SetupLogging(logPath string, opts logging.Options) (*slog.Logger, *os.File, error) {
	if err := SetupDirectories(filepath.Dir(logPath)); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger, logFile, err := logging.NewLogger(logPath, opts)
	if err != nil {
		return nil, nil, err
	}

	return logger, logFile, nil
}
