package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// pipeline changes require a restart because live connections hold references
// to the old objects.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PreferredVersionChanged bool
	NewPreferredVersion     string
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.PreferredVersionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Verses.PreferredVersion != new.Verses.PreferredVersion {
		d.PreferredVersionChanged = true
		d.NewPreferredVersion = new.Verses.PreferredVersion
	}

	return d
}
