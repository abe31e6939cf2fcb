package config

const (
	defaultWorkDir           = "~/.local/share/capflow/work"
	defaultStagingDir        = "~/.local/share/capflow/staging"
	defaultLogDir            = "~/.local/share/capflow/logs"
	defaultLaneRoot          = "~/.local/share/capflow/lanes"
	defaultExtension         = ".pcap"
	defaultStabilityInterval = 10
	defaultPollInterval      = 1
	defaultChunkLines        = 1000
	defaultLaneCount         = 4
	defaultWorkers           = 4
	defaultDrainTimeout      = 30
	defaultConverterBinary   = "tshark"
	defaultConverterTimeout  = 600
	defaultIndexName         = "pcap"
	defaultUploadConcurrency = 8
	defaultRequestTimeout    = 60
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults. InputDir and
// Index.Targets carry no default; they must be supplied.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:    defaultWorkDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Watch: Watch{
			Extension:         defaultExtension,
			StabilityInterval: defaultStabilityInterval,
			PollInterval:      defaultPollInterval,
		},
		Pipeline: Pipeline{
			ChunkLines:   defaultChunkLines,
			LaneCount:    defaultLaneCount,
			Workers:      defaultWorkers,
			DrainTimeout: defaultDrainTimeout,
		},
		Converter: Converter{
			Binary:  defaultConverterBinary,
			Args:    []string{"-T", "ek"},
			Timeout: defaultConverterTimeout,
		},
		Index: Index{
			Name:              defaultIndexName,
			UploadConcurrency: defaultUploadConcurrency,
			RequestTimeout:    defaultRequestTimeout,
		},
		Catalog: Catalog{
			Enabled: true,
		},
		Logging: Logging{
			Level: defaultLogLevel,
		},
	}
}
