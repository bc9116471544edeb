package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	ChromePath       string // empty means let chromedp find a browser
	ExportScale      float64
	ExportTimeout    int // seconds allowed for one rasterization
	FooterTemplate   string
	RetentionHours   int
	PurgeInterval    int    // minutes between retention sweeps
	PreviewRenderer  string // pdfium or fitz
	CompanyName      string // printed in report headers
	LogisticsAPI     LogisticsAPIConfig
}

// LogisticsAPIConfig stores the settings for the upstream logistics REST API
type LogisticsAPIConfig struct {
	BaseURL  string
	Token    string `json:"-"`
	Timeout  int    // seconds
	PageSize int
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a positive float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil || floatVal <= 0 {
		return defaultValue
	}
	return floatVal
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "freightdesk")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "databases/freightdesk.sqlite")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	// Export configuration
	serverConfigLive.ExportScale = getEnvFloat("EXPORT_SCALE", 2)
	serverConfigLive.ExportTimeout = getEnvInt("EXPORT_TIMEOUT", 60)
	serverConfigLive.FooterTemplate = getEnv("EXPORT_FOOTER", "")
	serverConfigLive.RetentionHours = getEnvInt("EXPORT_RETENTION_HOURS", 72)
	serverConfigLive.PurgeInterval = getEnvInt("EXPORT_PURGE_INTERVAL", 60)
	serverConfigLive.PreviewRenderer = getEnv("PREVIEW_RENDERER", "pdfium")
	serverConfigLive.CompanyName = getEnv("COMPANY_NAME", "")

	chromePath := getEnv("CHROME_PATH", "")
	if chromePath != "" {
		if err := checkExecutables(chromePath, logger); err != nil {
			logger.Warn("Chrome executable not found, falling back to browser discovery", "path", chromePath, "error", err)
			chromePath = ""
		}
	} else if found, err := findBrowser(); err == nil {
		logger.Info("Browser found for rasterization", "path", found)
	} else {
		logger.Warn("No Chrome/Chromium found on PATH, HTML exports will fail until one is installed")
	}
	serverConfigLive.ChromePath = chromePath

	// Upstream logistics API
	serverConfigLive.LogisticsAPI = LogisticsAPIConfig{
		BaseURL:  getEnv("LOGISTICS_API_URL", ""),
		Token:    getEnv("LOGISTICS_API_TOKEN", ""),
		Timeout:  getEnvInt("LOGISTICS_API_TIMEOUT", 30),
		PageSize: getEnvInt("LOGISTICS_API_PAGE_SIZE", 100),
	}
	if serverConfigLive.LogisticsAPI.BaseURL == "" {
		logger.Info("LOGISTICS_API_URL not set, exports must carry their own payload")
	}

	fmt.Println("\n========================================")
	fmt.Println("   freightdesk - Report Export Service")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	if getEnvBool("VERBOSE_STARTUP", false) {
		fmt.Printf("%+v\n", serverConfigLive)
	}

	return serverConfigLive, logger
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "freightdesk.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// findBrowser looks for a Chromium-family browser chromedp can drive
func findBrowser() (string, error) {
	browsers := []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome", "headless-shell"}
	for _, browser := range browsers {
		if path, err := exec.LookPath(browser); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no suitable browser found")
}

// checkExecutables verifies that an executable exists at the given path
func checkExecutables(path string, logger *slog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		logger.Error("Cannot find executable at location specified", "path", path)
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	logger.Debug("Executable found", "path", path)
	return nil
}
