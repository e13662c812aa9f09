package config

import (
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
)

const (
	// EnvPrefix namespaces the generic NTPWATCH_<SECTION>_<KEY> variables.
	EnvPrefix = "NTPWATCH"
	// DefaultEnvFile is read from the working directory when present.
	DefaultEnvFile = ".env"
)

// envNames maps each config key to the variable names it is read from.
// NTPWATCH_<SECTION>_<KEY> also works for every key.
var envNames = map[string]string{
	"target.host":                   "NTP_HOST",
	"target.fallback_ip":            "NTP_IP",
	"ssh.user":                      "SSH_USER",
	"ssh.port":                      "SSH_PORT",
	"ssh.key":                       "SSH_KEY",
	"ssh.connect_timeout_sec":       "SSH_CONNECT_TIMEOUT_SEC",
	"ssh.strict_host_key":           "SSH_STRICT_HOST_KEY",
	"ssh.known_hosts":               "SSH_KNOWN_HOSTS",
	"ssh.config_file":               "SSH_CONFIG_FILE",
	"check.interval_sec":            "CHECK_INTERVAL_SEC",
	"check.command_timeout_sec":     "COMMAND_TIMEOUT_SEC",
	"thresholds.max_stratum":        "MAX_STRATUM",
	"thresholds.max_abs_offset_sec": "MAX_ABS_OFFSET_SEC",
	"gps.timeout_sec":               "CGPS_TIMEOUT_SEC",
	"gps.samples":                   "GPSPIPE_SAMPLES",
	"gps.format":                    "GPS_FORMAT",
	"log.path":                      "LOG_PATH",
	"log.level":                     "LOG_LEVEL",
	"database.url":                  "DATABASE_URL",
	"database.table":                "POSTGRES_TABLE",
	"database.migrate":              "DB_MIGRATE",
	"email.sender":                  "EMAIL_SENDER",
	"email.receiver1":               "EMAIL_RECEIVER1",
	"email.receiver2":               "EMAIL_RECEIVER2",
	"email.smtp_host":               "SMTP_HOST",
	"email.smtp_port":               "SMTP_PORT",
	"email.username":                "SMTP_USERNAME",
	"email.password":                "SMTP_PASSWORD",
	"mqtt.broker":                   "MQTT_BROKER",
	"mqtt.topic":                    "MQTT_TOPIC",
	"mqtt.client_id":                "MQTT_CLIENT_ID",
	"alert.suppress_sec":            "ALERT_SUPPRESS_SEC",
}

// LoadOptions select the configuration sources.
type LoadOptions struct {
	// ConfigPath is an optional YAML file.
	ConfigPath string
	// EnvFile is a dotenv file. Empty means DefaultEnvFile if it exists.
	EnvFile string
	// Overrides are applied last, keyed like "check.interval_sec".
	Overrides map[string]interface{}
}

// Load builds the Config. Sources, lowest precedence first: defaults, the
// YAML file, the dotenv file, the process environment, Overrides.
// The result is validated.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
					"Config file not found: "+opts.ConfigPath,
					"Check the path passed to --config")
			}
			return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to read config file "+opts.ConfigPath,
				"Check the file is valid YAML")
		}
	}

	if err := mergeEnvFile(v, opts.EnvFile); err != nil {
		return Config{}, err
	}

	bindEnv(v)

	for key, val := range opts.Overrides {
		v.Set(key, val)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config value",
			"Numeric settings such as CHECK_INTERVAL_SEC must be plain numbers")
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("target.host", d.Target.Host)
	v.SetDefault("target.fallback_ip", d.Target.FallbackIP)
	v.SetDefault("ssh.user", d.SSH.User)
	v.SetDefault("ssh.port", d.SSH.Port)
	v.SetDefault("ssh.key", d.SSH.Key)
	v.SetDefault("ssh.connect_timeout_sec", d.SSH.ConnectTimeoutSec)
	v.SetDefault("ssh.strict_host_key", d.SSH.StrictHostKey)
	v.SetDefault("ssh.known_hosts", d.SSH.KnownHosts)
	v.SetDefault("ssh.config_file", d.SSH.ConfigFile)
	v.SetDefault("check.interval_sec", d.Check.IntervalSec)
	v.SetDefault("check.command_timeout_sec", d.Check.CommandTimeoutSec)
	v.SetDefault("thresholds.max_stratum", d.Thresholds.MaxStratum)
	v.SetDefault("thresholds.max_abs_offset_sec", d.Thresholds.MaxAbsOffsetSec)
	v.SetDefault("gps.timeout_sec", d.GPS.TimeoutSec)
	v.SetDefault("gps.samples", d.GPS.Samples)
	v.SetDefault("gps.format", d.GPS.Format)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.table", d.Database.Table)
	v.SetDefault("database.migrate", d.Database.Migrate)
	v.SetDefault("email.sender", d.Email.Sender)
	v.SetDefault("email.receiver1", d.Email.Receiver1)
	v.SetDefault("email.receiver2", d.Email.Receiver2)
	v.SetDefault("email.smtp_host", d.Email.SMTPHost)
	v.SetDefault("email.smtp_port", d.Email.SMTPPort)
	v.SetDefault("email.username", d.Email.Username)
	v.SetDefault("email.password", d.Email.Password)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("alert.suppress_sec", d.Alert.SuppressSec)
}

// bindEnv wires both the short variable names and NTPWATCH_* names.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range envNames {
		// Error only occurs for an empty key
		_ = v.BindEnv(key, name)
	}
}

// mergeEnvFile layers dotenv values above the YAML file and below the real
// environment. The process environment is not modified.
func mergeEnvFile(v *viper.Viper, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to parse "+path, "Fix the syntax or pass --env-file explicitly")
		}
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read env file "+path, "Check the path passed to --env-file")
	}

	settings := make(map[string]interface{})
	for key, name := range envNames {
		val, ok := values[name]
		if !ok {
			val, ok = values[prefixedEnvName(key)]
		}
		if !ok {
			continue
		}
		setNested(settings, key, val)
	}
	if len(settings) == 0 {
		return nil
	}
	if err := v.MergeConfigMap(settings); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to apply "+path, "")
	}
	return nil
}

// prefixedEnvName turns "check.interval_sec" into NTPWATCH_CHECK_INTERVAL_SEC.
func prefixedEnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setNested(m map[string]interface{}, key string, val interface{}) {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		m[key] = val
		return
	}
	sub, _ := m[section].(map[string]interface{})
	if sub == nil {
		sub = make(map[string]interface{})
		m[section] = sub
	}
	sub[field] = val
}

// Keys lists every config key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(envNames))
	for k := range envNames {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvName returns the short environment variable for key, or "".
func EnvName(key string) string {
	return envNames[key]
}
