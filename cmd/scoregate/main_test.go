package main

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/scoregate/internal/domain"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       domain.LoggingConfig
		debugOn   bool
		jsonLines bool
	}{
		{"default json info", domain.LoggingConfig{}, false, true},
		{"text debug", domain.LoggingConfig{Level: "debug", Format: "text"}, true, false},
		{"warn", domain.LoggingConfig{Level: "WARN", Format: "json"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.cfg)
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.debugOn {
				t.Errorf("expected debug enabled=%v, got %v", tt.debugOn, got)
			}
			logger.Error("startup check", "tenant_id", "bank-a")
			if got := strings.HasPrefix(buf.String(), "{"); got != tt.jsonLines {
				t.Errorf("expected json=%v, got %q", tt.jsonLines, buf.String())
			}
		})
	}

	t.Run("debug env", func(t *testing.T) {
		t.Setenv("SCOREGATE_DEBUG", "true")
		logger := newLogger(&bytes.Buffer{}, domain.LoggingConfig{Level: "error"})
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			t.Error("expected SCOREGATE_DEBUG to enable debug")
		}
	})
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("SCOREGATE_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
		if _, err := loadEnvFile(); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected fs.ErrNotExist, got %v", err)
		}
	})

	t.Run("existing variables win", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scoregate.env")
		body := "SCOREGATE_DOTENV_SAMPLE=from-file\nSCOREGATE_SERVER_PORT=9999\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write env file: %v", err)
		}
		t.Setenv("SCOREGATE_ENV_FILE", path)
		t.Setenv("SCOREGATE_SERVER_PORT", "8080")
		t.Cleanup(func() { os.Unsetenv("SCOREGATE_DOTENV_SAMPLE") })

		got, err := loadEnvFile()
		if err != nil {
			t.Fatalf("loadEnvFile: %v", err)
		}
		if got != path {
			t.Errorf("expected path %s, got %s", path, got)
		}
		if v := os.Getenv("SCOREGATE_DOTENV_SAMPLE"); v != "from-file" {
			t.Errorf("expected from-file, got %q", v)
		}
		if v := os.Getenv("SCOREGATE_SERVER_PORT"); v != "8080" {
			t.Errorf("expected 8080, got %q", v)
		}
	})
}
