package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeAPI()
	c.normalizeJobs()
	c.normalizeLanes()
	c.normalizeProvider()
	c.normalizeStorage()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("IVG_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	if c.API.MaxUploadMB <= 0 {
		c.API.MaxUploadMB = defaultMaxUploadMB
	}
	if c.API.StreamIdleTimeoutSeconds <= 0 {
		c.API.StreamIdleTimeoutSeconds = defaultStreamIdleTimeout
	}
}

func (c *Config) normalizeJobs() {
	if value, ok := os.LookupEnv("IVG_JOBS_MODE"); ok && strings.TrimSpace(value) != "" {
		c.Jobs.Mode = value
	}
	c.Jobs.Mode = strings.ToLower(strings.TrimSpace(c.Jobs.Mode))
	if c.Jobs.Mode == "" {
		c.Jobs.Mode = defaultJobsMode
	}
}

func (c *Config) normalizeLanes() {
	if c.Lanes.Generation.Workers <= 0 {
		c.Lanes.Generation.Workers = defaultGenerationWorkers
	}
	if c.Lanes.Generation.Buffer <= 0 {
		c.Lanes.Generation.Buffer = defaultGenerationBuffer
	}
	if c.Lanes.BackgroundRemoval.Workers <= 0 {
		c.Lanes.BackgroundRemoval.Workers = defaultBackgroundWorkers
	}
	if c.Lanes.BackgroundRemoval.Buffer <= 0 {
		c.Lanes.BackgroundRemoval.Buffer = defaultBackgroundBuffer
	}
}

func (c *Config) normalizeProvider() {
	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	if c.Provider.Name == "" || c.Provider.Name == "nano_banana" {
		c.Provider.Name = defaultProviderName
	}
	if c.Provider.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.Provider.APIKey = strings.TrimSpace(value)
		}
	}
	c.Provider.BaseURL = strings.TrimSpace(c.Provider.BaseURL)
	c.Provider.Model = strings.TrimSpace(c.Provider.Model)
	if c.Provider.Model == "" {
		c.Provider.Model = defaultGeminiModel
	}
	c.Provider.ModelFast = strings.TrimSpace(c.Provider.ModelFast)
	if c.Provider.ModelFast == "" {
		c.Provider.ModelFast = defaultGeminiModelFast
	}
	if c.Provider.ReferenceMaxSize < 0 {
		c.Provider.ReferenceMaxSize = 0
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaultStorageDriver
	}
	if c.Storage.DSN == "" {
		if value, ok := os.LookupEnv("DATABASE_URL"); ok {
			c.Storage.DSN = strings.TrimSpace(value)
		}
	}
	exts := make([]string, 0, len(c.Storage.AllowedExtensions))
	for _, ext := range c.Storage.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	if len(exts) == 0 {
		exts = append(exts, defaultAllowedExtensions...)
	}
	c.Storage.AllowedExtensions = exts
	if c.Styles.RulesMaxChars <= 0 {
		c.Styles.RulesMaxChars = defaultRulesMaxChars
	}
	if c.History.MaxEntries < 0 {
		c.History.MaxEntries = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}
