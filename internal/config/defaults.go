package config

const (
	defaultConfigPath       = "~/.config/pyxis/config.toml"
	projectConfigName       = "pyxis.toml"
	defaultDataDir          = "~/.local/share/pyxis"
	defaultLogDir           = "~/.local/share/pyxis/logs"
	defaultSQLiteName       = "pyxis.db"
	defaultLogRetentionDays = 60
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultBusyTimeoutMS    = 5000
	defaultMaxOpenConns     = 8
	defaultConnectTimeout   = 10
	defaultNameWeight       = 0.7
	defaultGeoWeight        = 0.3
	defaultThreshold        = 60
	defaultMaxGridDistance  = 50
	defaultDecayFactor      = 0.1
	defaultFarPenalty       = -40
	defaultResolution       = 9
	defaultNearestRing      = 10
	defaultWeightAttribute  = "oil_prod"
	defaultWorkers          = 2
	defaultPollInterval     = 5
	defaultLockName         = "pyxis.lock"
	defaultMetricsListen    = "127.0.0.1:9464"
	defaultMetricsPath      = "/metrics"

	// DriverSQLite selects the embedded SQLite registry.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the PostgreSQL registry.
	DriverPostgres = "postgres"
)

// DefaultRules is the rule table used when the config file carries none.
func DefaultRules() map[string]MergeRule {
	return map[string]MergeRule{
		"name":            {Method: "most_frequent"},
		"country":         {Method: "most_frequent"},
		"functional_unit": {Method: "most_frequent"},
		"offshore":        {Method: "most_frequent"},
		"age":             {Method: "avg_age", Round: "int"},
		"depth":           {Method: "average"},
		"api":             {Method: "volume_weighted"},
		"gor":             {Method: "volume_weighted"},
		"wor":             {Method: "volume_weighted"},
		"oil_prod":        {Method: "average"},
		"num_prod_wells":  {Method: "max", Round: "int"},
		"res_press":       {Method: "median"},
		"res_temp":        {Method: "median"},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Storage: Storage{
			Driver:         DriverSQLite,
			MaxOpenConns:   defaultMaxOpenConns,
			BusyTimeoutMS:  defaultBusyTimeoutMS,
			ConnectTimeout: defaultConnectTimeout,
		},
		Matching: Matching{
			NameWeight:       defaultNameWeight,
			GeoWeight:        defaultGeoWeight,
			Threshold:        defaultThreshold,
			MaxGridDistance:  defaultMaxGridDistance,
			DecayFactor:      defaultDecayFactor,
			FarPenalty:       defaultFarPenalty,
			CountryPrefilter: true,
		},
		Spatial: Spatial{
			Resolution:  defaultResolution,
			NearestRing: defaultNearestRing,
		},
		Merge: Merge{
			WeightAttribute: defaultWeightAttribute,
			Rules:           DefaultRules(),
		},
		Workflow: Workflow{
			Workers:      defaultWorkers,
			PollInterval: defaultPollInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Metrics: Metrics{
			Listen: defaultMetricsListen,
			Path:   defaultMetricsPath,
		},
	}
}
