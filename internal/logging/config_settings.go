package logging

import "fmt"

// ConfigSettings adapts a static configuration snapshot to the
// SettingsManager interface Manager.Reconfigure reads from. It exists for
// deployments (like this daemon) that configure log format/level/caller
// info once at startup rather than through a live-editable settings store.
type ConfigSettings struct {
	Format        string
	Level         string
	IncludeCaller bool
}

func (s ConfigSettings) Get(key string) (string, error) {
	switch key {
	case "logging.format":
		return s.Format, nil
	case "logging.level":
		return s.Level, nil
	}
	return "", fmt.Errorf("logging: unknown string setting %q", key)
}

func (s ConfigSettings) GetInt(key string) (int, error) {
	return 0, fmt.Errorf("logging: unknown int setting %q", key)
}

func (s ConfigSettings) GetBool(key string) (bool, error) {
	if key == "logging.include_caller" {
		return s.IncludeCaller, nil
	}
	return false, fmt.Errorf("logging: unknown bool setting %q", key)
}

var _ SettingsManager = ConfigSettings{}
