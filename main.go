package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/freightdesk/config"
	database "github.com/drummonds/freightdesk/database"
	engine "github.com/drummonds/freightdesk/engine"
	"github.com/drummonds/freightdesk/engine/pdfrenderer"
	"github.com/drummonds/freightdesk/logistics"
	"github.com/drummonds/freightdesk/rasterize"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	logistics.Logger = Logger
	rasterize.Logger = Logger
}

// newEcho builds the echo instance with our error handling and middleware
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// API clients always get JSON, even for unknown routes
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	e.Use(middleware.BodyLimit("50M"))
	return e
}

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Exports and jobs are destroyed on exit")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db, err := database.NewRepository(serverConfig)
	if err != nil {
		Logger.Error("Unable to set up database", "type", serverConfig.DatabaseType, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	Logger.Info("Database setup complete")

	browser := rasterize.NewBrowser(serverConfig.ChromePath)
	defer browser.Close()

	apiCfg := serverConfig.LogisticsAPI
	client := logistics.NewClient(apiCfg.BaseURL, apiCfg.Token, time.Duration(apiCfg.Timeout)*time.Second, apiCfg.PageSize)

	renderer, err := pdfrenderer.NewRenderer(serverConfig.PreviewRenderer)
	if err != nil {
		Logger.Warn("Unable to start preview renderer", "renderer", serverConfig.PreviewRenderer, "error", err)
	} else {
		defer renderer.Close()
	}

	e := newEcho()
	serverHandler := engine.ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Browser:      browser,
		Logistics:    client,
		Renderer:     renderer,
	}
	serverHandler.RegisterRoutes()

	Logger.Info("About to initialize schedules")
	scheduler := serverHandler.InitializeSchedules() //initialize all the cron jobs
	if scheduler != nil {
		defer scheduler.Stop()
	}
	Logger.Info("Schedules initialized, about to run startup checks")
	if err := serverHandler.StartupChecks(); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Startup checks complete")

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	Logger.Info("Starting HTTP server")

	// Try to start server with automatic port increment if port is in use
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)

		if startErr != nil && isAddressInUse(startErr) {
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)

			serverConfig.ListenAddrPort = nextPort(serverConfig.ListenAddrPort)

			if attempt == maxRetries-1 {
				Logger.Error("Failed to find available port after maximum retries",
					"start_port", startPort,
					"end_port", serverConfig.ListenAddrPort,
					"max_retries", maxRetries)
				os.Exit(1)
			}
		} else if startErr != nil && startErr != http.ErrServerClosed {
			Logger.Error("Failed to start server", "error", startErr)
			os.Exit(1)
		} else {
			break
		}
	}

	if serverConfig.ListenAddrPort != startPort {
		Logger.Warn("Server ran on alternative port due to conflicts",
			"requested_port", startPort,
			"actual_port", serverConfig.ListenAddrPort)
	}
}

// nextPort returns port+1, or the port unchanged if it is not a number
func nextPort(port string) string {
	portNum := 0
	if _, err := fmt.Sscanf(port, "%d", &portNum); err != nil {
		return port
	}
	return fmt.Sprintf("%d", portNum+1)
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
