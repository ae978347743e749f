package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// DefaultPatientColumn is the partition column holding the patient identity
// in every resource table.
const DefaultPatientColumn = "yy__patient_id"

// SystemEntry describes one registered data system.
type SystemEntry struct {
	DBName        string `mapstructure:"db_name"`
	PatientColumn string `mapstructure:"patient_column"`
}

// Paths holds the storage roots shared by all systems.
type Paths struct {
	BasePath string `mapstructure:"base_path"`
}

// SystemConfig is the process-wide mapping of data systems to their storage.
// It is built once at startup and must not be mutated afterwards.
type SystemConfig struct {
	Systems map[string]SystemEntry `mapstructure:"systems"`
	Paths   Paths                  `mapstructure:"paths"`
}

// LoadSystemConfig reads a TOML system configuration such as:
//
//	[paths]
//	base_path = "/data/delta"
//
//	[systems.epic]
//	db_name = "epic_db"
func LoadSystemConfig(path string) (*SystemConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read system config %s: %w", path, err)
	}

	sc := &SystemConfig{}
	if err := v.Unmarshal(sc); err != nil {
		return nil, fmt.Errorf("unmarshal system config: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	sc.applyDefaults()
	return sc, nil
}

// Validate checks that every system names a database and a base path is set.
func (s *SystemConfig) Validate() error {
	if s.Paths.BasePath == "" {
		return fmt.Errorf("system config: paths.base_path is required")
	}
	if len(s.Systems) == 0 {
		return fmt.Errorf("system config: at least one system is required")
	}
	for name, entry := range s.Systems {
		if entry.DBName == "" {
			return fmt.Errorf("system config: systems.%s.db_name is required", name)
		}
	}
	return nil
}

func (s *SystemConfig) applyDefaults() {
	for name, entry := range s.Systems {
		if entry.PatientColumn == "" {
			entry.PatientColumn = DefaultPatientColumn
			s.Systems[name] = entry
		}
	}
}

// Lookup returns the entry registered under name. Names are matched
// lower-cased because viper folds TOML keys to lower case.
func (s *SystemConfig) Lookup(name string) (SystemEntry, bool) {
	entry, ok := s.Systems[strings.ToLower(name)]
	if ok && entry.PatientColumn == "" {
		entry.PatientColumn = DefaultPatientColumn
	}
	return entry, ok
}

// Names returns the registered system names in sorted order.
func (s *SystemConfig) Names() []string {
	names := make([]string, 0, len(s.Systems))
	for name := range s.Systems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
