package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckExecutables_ValidPath(t *testing.T) {
	tempDir := t.TempDir()
	validExe := filepath.Join(tempDir, "chromium")

	file, err := os.Create(validExe)
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	file.Close()

	err = os.Chmod(validExe, 0755)
	if err != nil {
		t.Fatalf("Failed to chmod file: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	err = checkExecutables(validExe, logger)
	if err != nil {
		t.Errorf("Expected no error with valid path, got: %v", err)
	}
}

func TestCheckExecutables_InvalidPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	invalidPath := "/nonexistent/path/to/chromium"
	err := checkExecutables(invalidPath, logger)
	if err == nil {
		t.Error("Expected error with invalid path, got nil")
	}
	t.Logf("Correctly returned error for invalid path: %v", err)
}

func TestCheckExecutables_Directory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := checkExecutables(t.TempDir(), logger); err == nil {
		t.Error("Expected error when path is a directory")
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{"unset uses default", "", 2},
		{"valid value", "3.5", 3.5},
		{"garbage uses default", "sharp", 2},
		{"zero uses default", "0", 2},
		{"negative uses default", "-1", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FREIGHTDESK_TEST_SCALE", tt.value)
			if got := getEnvFloat("FREIGHTDESK_TEST_SCALE", 2); got != tt.want {
				t.Errorf("getEnvFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetupServerDefaults(t *testing.T) {
	t.Setenv("LOG_OUTPUT", "stdout")
	t.Setenv("SERVER_PORT", "9123")
	t.Setenv("EXPORT_SCALE", "1.5")
	t.Setenv("LOGISTICS_API_URL", "https://api.example.test")

	cfg, logger := SetupServer()
	if logger == nil || Logger == nil {
		t.Fatal("Expected logger to be configured")
	}
	if cfg.ListenAddrPort != "9123" {
		t.Errorf("Expected port 9123, got %s", cfg.ListenAddrPort)
	}
	if cfg.ExportScale != 1.5 {
		t.Errorf("Expected export scale 1.5, got %v", cfg.ExportScale)
	}
	if cfg.LogisticsAPI.BaseURL != "https://api.example.test" {
		t.Errorf("Unexpected logistics API URL %q", cfg.LogisticsAPI.BaseURL)
	}
	if cfg.LogisticsAPI.PageSize != 100 {
		t.Errorf("Expected default page size 100, got %d", cfg.LogisticsAPI.PageSize)
	}
}
