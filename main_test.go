package main

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	config "github.com/drummonds/freightdesk/config"
	database "github.com/drummonds/freightdesk/database"
	engine "github.com/drummonds/freightdesk/engine"
	"github.com/drummonds/freightdesk/logistics"
	"github.com/drummonds/freightdesk/rasterize"
)

func TestInjectGlobals(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	injectGlobals(logger)

	for name, got := range map[string]*slog.Logger{
		"main":      Logger,
		"config":    config.Logger,
		"database":  database.Logger,
		"engine":    engine.Logger,
		"logistics": logistics.Logger,
		"rasterize": rasterize.Logger,
	} {
		if got != logger {
			t.Errorf("%s logger was not injected", name)
		}
	}
}

func TestIsAddressInUse(t *testing.T) {
	if isAddressInUse(nil) {
		t.Error("nil error is not address in use")
	}
	if !isAddressInUse(errors.New("listen tcp :8000: bind: address already in use")) {
		t.Error("Expected bind error to be detected")
	}
	if isAddressInUse(errors.New("permission denied")) {
		t.Error("Unexpected match for permission error")
	}
}

func TestNextPort(t *testing.T) {
	if got := nextPort("8000"); got != "8001" {
		t.Errorf("Expected 8001, got %s", got)
	}
	if got := nextPort("http"); got != "http" {
		t.Errorf("Non numeric ports should be left alone, got %s", got)
	}
}

func TestServerWiring(t *testing.T) {
	serverConfig := config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:", ExportScale: 2}
	db, err := database.NewRepository(serverConfig)
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	defer db.Close()

	e := newEcho()
	serverHandler := engine.ServerHandler{DB: db, Echo: e, ServerConfig: serverConfig}
	serverHandler.RegisterRoutes()
	server := httptest.NewServer(e)
	defer server.Close()

	t.Run("About", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/about")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("Unknown API route is JSON", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/nothing-here")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
		if !strings.HasPrefix(resp.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
			t.Errorf("Expected JSON 404, got %s", resp.Header.Get(echo.HeaderContentType))
		}
	})

	t.Run("CORS", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/exports", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("Expected wildcard CORS origin, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
		}
	})
}
