package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	Port         string
	WorkerCount  int
	APIAccessKey string
	SettingsFile string
	FetchTimeout int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
