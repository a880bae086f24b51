package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from the environment, fills in defaults and
// validates the result.
func Load() (*Config, error) {
	return loadFrom(os.Getenv)
}

func loadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if err := populate(reflect.ValueOf(cfg).Elem(), getenv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// populate walks the exported fields of a config struct. Nested structs
// are descended into; leaf fields are read from the variable named by
// their env tag, falling back to envAlt and then to default.
func populate(v reflect.Value, getenv func(string) string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct {
			if err := populate(fv, getenv); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, err := lookup(sf.Tag, getenv)
		if err != nil {
			return err
		}
		if raw == "" {
			continue
		}
		if err := assign(fv, raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
	}
	return nil
}

func lookup(tag reflect.StructTag, getenv func(string) string) (string, error) {
	name := tag.Get("env")
	if v := getenv(name); v != "" {
		return v, nil
	}
	if alt := tag.Get("envAlt"); alt != "" {
		if v := getenv(alt); v != "" {
			return v, nil
		}
	}
	if tag.Get("required") == "true" {
		return "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return tag.Get("default"), nil
}

// assign parses raw into the field according to its type.
// Slices of strings are comma separated with blanks dropped.
func assign(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		fv.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", fv.Type().Elem().Kind())
		}
		var items []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		fv.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", fv.Kind())
	}
	return nil
}

// problems collects validation failures so all of them are reported at once.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) check(ok bool, msg string) {
	if !ok {
		*p = append(*p, msg)
	}
}

// Validate checks the configuration and reports every failure together.
func (c *Config) Validate() error {
	var errs problems

	c.validateStore(&errs)
	c.validateServer(&errs)
	c.validateImport(&errs)
	c.validateLock(&errs)

	errs.check(!c.Schedule.Enabled || c.Schedule.CheckInterval > 0,
		"SCHEDULE_CHECK_INTERVAL must be positive when scheduling is enabled")
	errs.check(!c.Rate.Enabled || c.Rate.RequestsPerMinute > 0,
		"RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	errs.check(!c.Rate.Enabled || c.Rate.UploadLimit > 0,
		"RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	errs.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")

	c.validateLogging(&errs)

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateStore(errs *problems) {
	switch strings.ToLower(c.Store.Driver) {
	case "postgres":
		db := c.Database
		errs.check(db.URL != "", "DATABASE_URL is required when STORE_DRIVER is postgres")
		errs.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
		errs.check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
		if db.MaxConns < db.MinConns {
			errs.addf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)
		}
	case "sqlite":
		errs.check(c.Store.SQLitePath != "", "SQLITE_PATH is required when STORE_DRIVER is sqlite")
	case "memory":
	default:
		errs.addf("STORE_DRIVER (%q) must be one of: postgres, sqlite, memory", c.Store.Driver)
	}
}

func (c *Config) validateServer(errs *problems) {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs.addf("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	errs.check(c.Server.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	errs.check(c.Server.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")
}

func (c *Config) validateImport(errs *problems) {
	im := c.Import
	errs.check(im.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	errs.check(im.MaxRows > 0, "IMPORT_MAX_ROWS must be positive")
	errs.check(im.ParseTimeout > 0, "IMPORT_PARSE_TIMEOUT must be positive")
	errs.check(im.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	errs.check(im.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	errs.check(im.SessionTTL > 0, "IMPORT_SESSION_TTL must be positive")
}

func (c *Config) validateLock(errs *problems) {
	switch strings.ToLower(c.Lock.Backend) {
	case "local":
	case "redis":
		errs.check(c.Lock.RedisAddr != "", "REDIS_ADDR is required when LOCK_BACKEND is redis")
		errs.check(c.Lock.TTL > 0, "LOCK_TTL must be positive")
	default:
		errs.addf("LOCK_BACKEND (%q) must be one of: local, redis", c.Lock.Backend)
	}
}

func (c *Config) validateLogging(errs *problems) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs.addf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs.addf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}
	errs.check(c.Logging.File == "" || c.Logging.MaxSizeMB > 0, "LOG_MAX_SIZE_MB must be positive when LOG_FILE is set")
}

// String renders the config for logging with credentials masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: {Host: %q, Port: %d}, Store: {Driver: %q}, "+
		"Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, "+
		"Import: {MaxFileSize: %d, MaxRows: %d, MaxConcurrent: %d}, "+
		"Lock: {Backend: %q, Redis: [MASKED]}, "+
		"Rate: {Enabled: %v, RequestsPerMinute: %d}, "+
		"Logging: {Level: %q, Format: %q}}",
		c.Server.Host, c.Server.Port, c.Store.Driver,
		c.Database.MaxConns, c.Database.MinConns,
		c.Import.MaxFileSize, c.Import.MaxRows, c.Import.MaxConcurrent,
		c.Lock.Backend,
		c.Rate.Enabled, c.Rate.RequestsPerMinute,
		c.Logging.Level, c.Logging.Format,
	)
}
