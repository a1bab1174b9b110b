package config

const (
	defaultDataDir                = "~/.local/share/ivg"
	defaultLogDir                 = "~/.local/share/ivg/logs"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultMaxUploadMB            = 10
	defaultStreamIdleTimeout      = 300
	defaultJobsMode               = JobsModeQueued
	defaultGenerationWorkers      = 4
	defaultGenerationBuffer       = 64
	defaultBackgroundWorkers      = 1
	defaultBackgroundBuffer       = 64
	defaultProviderName           = ProviderGemini
	defaultGeminiModel            = "gemini-3-pro-image-preview"
	defaultGeminiModelFast        = "gemini-2.5-flash-image"
	defaultProviderTimeout        = 60
	defaultProviderMaxRetries     = 2
	defaultBackoffBaseSeconds     = 1
	defaultBackoffMaxSeconds      = 8
	defaultBreakerThreshold       = 5
	defaultBreakerWindowSeconds   = 60
	defaultBreakerCooldownSeconds = 60
	defaultReferenceMaxSize       = 256
	defaultSegmentTolerance       = 48
	defaultSegmentFGThreshold     = 240
	defaultSegmentBGThreshold     = 10
	defaultSegmentErodeSize       = 10
	defaultSegmentFastTolerance   = 64
	defaultSegmentFastErodeSize   = 0
	defaultStorageDriver          = StorageSQLite
	defaultRulesMaxChars          = 4000
	defaultHistoryMaxEntries      = 200
	defaultNotifyRequestTimeout   = 10
)

// Execution modes for submitted jobs.
const (
	JobsModeInline = "inline"
	JobsModeQueued = "queued"
)

// Provider variants selectable at startup.
const (
	ProviderGemini  = "gemini"
	ProviderPalette = "palette"
)

// Storage drivers.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

var defaultAllowedExtensions = []string{"png", "jpg", "jpeg", "gif", "webp"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		API: API{
			Bind:                     defaultAPIBind,
			MaxUploadMB:              defaultMaxUploadMB,
			StreamIdleTimeoutSeconds: defaultStreamIdleTimeout,
		},
		Jobs: Jobs{Mode: defaultJobsMode},
		Lanes: Lanes{
			Generation:        Lane{Workers: defaultGenerationWorkers, Buffer: defaultGenerationBuffer},
			BackgroundRemoval: Lane{Workers: defaultBackgroundWorkers, Buffer: defaultBackgroundBuffer},
		},
		Provider: Provider{
			Name:                   defaultProviderName,
			Model:                  defaultGeminiModel,
			ModelFast:              defaultGeminiModelFast,
			TimeoutSeconds:         defaultProviderTimeout,
			MaxRetries:             defaultProviderMaxRetries,
			BackoffBaseSeconds:     defaultBackoffBaseSeconds,
			BackoffMaxSeconds:      defaultBackoffMaxSeconds,
			BreakerThreshold:       defaultBreakerThreshold,
			BreakerWindowSeconds:   defaultBreakerWindowSeconds,
			BreakerCooldownSeconds: defaultBreakerCooldownSeconds,
			ReferenceMaxSize:       defaultReferenceMaxSize,
		},
		Segment: Segment{
			Tolerance:     defaultSegmentTolerance,
			FGThreshold:   defaultSegmentFGThreshold,
			BGThreshold:   defaultSegmentBGThreshold,
			ErodeSize:     defaultSegmentErodeSize,
			FastTolerance: defaultSegmentFastTolerance,
			FastErodeSize: defaultSegmentFastErodeSize,
		},
		Storage: Storage{
			Driver:            defaultStorageDriver,
			AllowedExtensions: append([]string(nil), defaultAllowedExtensions...),
		},
		Styles:  Styles{RulesMaxChars: defaultRulesMaxChars},
		History: History{MaxEntries: defaultHistoryMaxEntries},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			BreakerOpen:    true,
			JobFailed:      false,
		},
	}
}
