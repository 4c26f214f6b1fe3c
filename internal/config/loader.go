package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// ErrConfigMissing is returned when the configuration file is absent or unreadable.
var ErrConfigMissing = errors.New("config not found or inaccessible")

// EnvPrefix is the prefix for environment overrides, e.g. XMLMIRROR_GENERAL_DB_PASSWORD.
const EnvPrefix = "XMLMIRROR"

// generalSection holds the non-source settings.
const generalSection = "general"

// defaults lists the value used for every General key not present in the file.
var defaults = map[string]string{
	"db_sqlite":         "yes",
	"sqlite_path":       "sqlite3.db",
	"db_port":           "5432",
	"db_name":           "asterix",
	"db_sslmode":        "disable",
	"db_max_conns":      "4",
	"fetch_timeout":     "1.5s",
	"max_document_size": "10485760",
	"max_concurrent":    "8",
	"record_runs":       "yes",
	"column_type":       "integer",
	"log_level":         "info",
	"log_format":        "text",
}

// Load reads configuration from the INI file at path.
// It applies defaults and environment overrides, then validates the result.
// Returns an error wrapping ErrConfigMissing if the file cannot be read.
func Load(path string) (*Config, error) {
	if err := checkReadable(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(generalSection+"."+key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	sections, err := sourceSections(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	cfg, err := fromViper(v, sections)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// checkReadable verifies the file exists and can be opened.
func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrConfigMissing, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrConfigMissing, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigMissing, path, err)
	}
	return f.Close()
}

// sourceSections returns the lower-cased names of the sections whose name,
// as written in the file, starts with SourcePrefix. Viper folds section
// names to lower case, so the prefix match is done on the raw file.
func sourceSections(path string) (map[string]bool, error) {
	f, err := ini.LoadSources(ini.LoadOptions{SkipUnrecognizableLines: true}, path)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool)
	for _, name := range f.SectionStrings() {
		if strings.HasPrefix(name, SourcePrefix) {
			names[strings.ToLower(name)] = true
		}
	}
	return names, nil
}

// fromViper builds a Config from a loaded viper instance. Only the sections
// listed in sources become Sources.
func fromViper(v *viper.Viper, sources map[string]bool) (*Config, error) {
	r := &reader{v: v}
	g := func(key string) string { return generalSection + "." + key }

	cfg := &Config{
		Database: DatabaseConfig{
			SQLite:     r.yesNo(g("db_sqlite")),
			SQLitePath: r.str(g("sqlite_path")),
			Address:    r.str(g("db_address")),
			Port:       r.integer(g("db_port")),
			Username:   r.str(g("db_username")),
			Password:   r.str(g("db_password")),
			Name:       r.str(g("db_name")),
			SSLMode:    r.str(g("db_sslmode")),
			MaxConns:   r.integer(g("db_max_conns")),
		},
		Fetch: FetchConfig{
			Timeout:         r.dur(g("fetch_timeout")),
			MaxDocumentSize: int64(r.integer(g("max_document_size"))),
		},
		Run: RunConfig{
			MaxConcurrent: r.integer(g("max_concurrent")),
			RecordRuns:    r.yesNo(g("record_runs")),
		},
		Load: LoadConfig{
			ColumnType: strings.ToLower(r.str(g("column_type"))),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(r.str(g("log_level"))),
			Format: strings.ToLower(r.str(g("log_format"))),
		},
	}

	// Sections are maps in AllSettings; viper lower-cases their names.
	for name, section := range v.AllSettings() {
		if !sources[name] {
			continue
		}
		if _, ok := section.(map[string]any); !ok {
			continue
		}

		src := Source{
			Name:       name,
			URL:        strings.TrimSpace(v.GetString(name + ".link")),
			Identifier: v.GetString(name + ".name"),
			Enabled:    true,
		}

		// A bad enabled value keeps the source enabled so it fails visibly
		if v.IsSet(name + ".enabled") {
			raw := strings.TrimSpace(v.GetString(name + ".enabled"))
			enabled, err := parseYesNo(raw)
			if err != nil {
				src.problems = append(src.problems, fmt.Sprintf("%s.enabled=%q: %v", name, raw, err))
			} else {
				src.Enabled = enabled
			}
		}

		cfg.Sources = append(cfg.Sources, src)
	}

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("invalid values:\n  - %s", strings.Join(r.errs, "\n  - "))
	}

	return cfg, nil
}

// reader converts viper string values, collecting every conversion failure.
type reader struct {
	v    *viper.Viper
	errs []string
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) integer(key string) int {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q: invalid integer", key, raw))
	}
	return i
}

func (r *reader) dur(key string) time.Duration {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q: invalid duration", key, raw))
	}
	return d
}

func (r *reader) yesNo(key string) bool {
	raw := r.str(key)
	b, err := parseYesNo(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q: %v", key, raw, err))
	}
	return b
}

// parseYesNo accepts the INI-style yes/no spellings as well as Go booleans.
func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "y", "on", "true", "1":
		return true, nil
	case "no", "n", "off", "false", "0":
		return false, nil
	default:
		return false, errors.New("expected yes or no")
	}
}
