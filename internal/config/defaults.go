package config

const (
	defaultYear                = 2024
	defaultDataDir             = "data"
	defaultDatabase            = "emissions.duckdb"
	defaultOutputDir           = "outputs"
	defaultLedgerFile          = "pipeline_runs.db"
	defaultBaseURL             = "https://d37ci6vzurychx.cloudfront.net/trip-data"
	defaultDownloadTimeout     = 300
	defaultDownloadRetries     = 3
	defaultDownloadConcurrency = 2
	defaultMaxDistanceMiles    = 100
	defaultMaxDurationSeconds  = 86400
	defaultLogFile             = "taxiemissions.log"
	defaultMetricsJob          = "taxiemissions"
	defaultNarrativeModel      = "gpt-4o-mini"

	emissionFactorsFile = "vehicle_emissions.csv"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Year:      defaultYear,
		DataDir:   defaultDataDir,
		Database:  defaultDatabase,
		OutputDir: defaultOutputDir,
		Download: Download{
			BaseURL:        defaultBaseURL,
			TimeoutSeconds: defaultDownloadTimeout,
			MaxRetries:     defaultDownloadRetries,
			Concurrency:    defaultDownloadConcurrency,
		},
		Cleaning: Cleaning{
			MaxDistanceMiles:   defaultMaxDistanceMiles,
			MaxDurationSeconds: defaultMaxDurationSeconds,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
			File:   defaultLogFile,
		},
		Metrics: Metrics{
			Job: defaultMetricsJob,
		},
		Narrative: Narrative{
			Model: defaultNarrativeModel,
		},
	}
}
