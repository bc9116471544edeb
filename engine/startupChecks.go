package engine

import (
	"context"
	"time"

	"github.com/drummonds/freightdesk/config"
)

// StartupChecks performs all the checks to make sure everything works. Only
// a broken configuration is fatal, a missing browser or API just disables
// the exports that need them.
func (serverHandler *ServerHandler) StartupChecks() error {
	cfg := serverHandler.ServerConfig
	browserChecks(cfg)
	serverHandler.logisticsChecks(cfg)
	previewChecks(serverHandler)
	return nil
}

func browserChecks(cfg config.ServerConfig) {
	if cfg.ChromePath == "" {
		Logger.Info("CHROME_PATH not set, chromedp will search for a browser on first export")
		return
	}
	Logger.Info("Browser configured for rasterization", "path", cfg.ChromePath, "scale", cfg.ExportScale)
}

// logisticsChecks makes one cheap call so a bad URL or token shows up in
// the startup log instead of on the first export
func (serverHandler *ServerHandler) logisticsChecks(cfg config.ServerConfig) {
	if serverHandler.Logistics == nil || cfg.LogisticsAPI.BaseURL == "" {
		Logger.Info("Logistics API not configured, exports must carry their own payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := serverHandler.Logistics.Get(ctx, "/", nil); err != nil {
		Logger.Warn("Logistics API check failed, API-sourced exports may fail", "url", cfg.LogisticsAPI.BaseURL, "error", err)
		return
	}
	Logger.Info("Logistics API reachable", "url", cfg.LogisticsAPI.BaseURL)
}

func previewChecks(serverHandler *ServerHandler) {
	if serverHandler.Renderer == nil {
		Logger.Warn("No preview renderer available, page previews are disabled")
		return
	}
	Logger.Info("Page previews enabled", "renderer", serverHandler.ServerConfig.PreviewRenderer)
}
