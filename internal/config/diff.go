package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked — backend
// selection and connection settings require a process restart and are
// deliberately excluded.
type ConfigDiff struct {
	LogLevelChanged    bool
	NewLogLevel        LogLevel
	RateLimitChanged   bool
	NewRateLimit       RateLimitConfig
	AllowedOriginsDiff bool
	NewAllowedOrigins  []string
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.RateLimit != new.RateLimit {
		d.RateLimitChanged = true
		d.NewRateLimit = new.RateLimit
	}

	if !stringSlicesEqual(old.Transport.AllowedOrigins, new.Transport.AllowedOrigins) {
		d.AllowedOriginsDiff = true
		d.NewAllowedOrigins = new.Transport.AllowedOrigins
	}

	return d
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
