// Package config loads the monitor's settings once at startup into an
// immutable Config. Nothing else in the program reads the environment.
package config

import (
	"strings"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/health"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/internal/notify"
	"github.com/rileyhilliard/ntpwatch/internal/sampler"
	"github.com/rileyhilliard/ntpwatch/internal/store"
	"github.com/rileyhilliard/ntpwatch/pkg/sshutil"
)

// Config is the complete monitor configuration. Load returns it by value and
// callers never modify it.
type Config struct {
	Target     TargetConfig    `mapstructure:"target" yaml:"target"`
	SSH        SSHConfig       `mapstructure:"ssh" yaml:"ssh"`
	Check      CheckConfig     `mapstructure:"check" yaml:"check"`
	Thresholds ThresholdConfig `mapstructure:"thresholds" yaml:"thresholds"`
	GPS        GPSConfig       `mapstructure:"gps" yaml:"gps"`
	Log        LogConfig       `mapstructure:"log" yaml:"log"`
	Database   DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Email      EmailConfig     `mapstructure:"email" yaml:"email"`
	MQTT       MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	Alert      AlertConfig     `mapstructure:"alert" yaml:"alert"`
}

// TargetConfig names the appliance.
type TargetConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	FallbackIP string `mapstructure:"fallback_ip" yaml:"fallback_ip"`
}

// SSHConfig controls how the appliance is reached.
type SSHConfig struct {
	User              string `mapstructure:"user" yaml:"user"`
	Port              int    `mapstructure:"port" yaml:"port"`
	Key               string `mapstructure:"key" yaml:"key,omitempty"`
	ConnectTimeoutSec int    `mapstructure:"connect_timeout_sec" yaml:"connect_timeout_sec"`
	StrictHostKey     string `mapstructure:"strict_host_key" yaml:"strict_host_key"`
	KnownHosts        string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`
	ConfigFile        string `mapstructure:"config_file" yaml:"config_file,omitempty"`
}

// CheckConfig sets the polling cadence.
type CheckConfig struct {
	IntervalSec       int `mapstructure:"interval_sec" yaml:"interval_sec"`
	CommandTimeoutSec int `mapstructure:"command_timeout_sec" yaml:"command_timeout_sec"`
}

// ThresholdConfig bounds acceptable discipline.
type ThresholdConfig struct {
	MaxStratum      int     `mapstructure:"max_stratum" yaml:"max_stratum"`
	MaxAbsOffsetSec float64 `mapstructure:"max_abs_offset_sec" yaml:"max_abs_offset_sec"`
}

// GPSConfig controls the gpspipe query.
type GPSConfig struct {
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	Samples    int    `mapstructure:"samples" yaml:"samples"`
	Format     string `mapstructure:"format" yaml:"format"`
}

// LogConfig sets log destination and verbosity.
type LogConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Level string `mapstructure:"level" yaml:"level"`
}

// DatabaseConfig selects the sample store.
type DatabaseConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Table   string `mapstructure:"table" yaml:"table"`
	Migrate bool   `mapstructure:"migrate" yaml:"migrate"`
}

// EmailConfig configures alert mail.
type EmailConfig struct {
	Sender    string `mapstructure:"sender" yaml:"sender"`
	Receiver1 string `mapstructure:"receiver1" yaml:"receiver1"`
	Receiver2 string `mapstructure:"receiver2" yaml:"receiver2"`
	SMTPHost  string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
}

// MQTTConfig configures the optional MQTT alert channel.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
}

// AlertConfig tunes alert delivery.
type AlertConfig struct {
	SuppressSec int `mapstructure:"suppress_sec" yaml:"suppress_sec"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Target: TargetConfig{Host: "myntp", FallbackIP: "0.0.0.0"},
		SSH: SSHConfig{
			User:              "ubuntu",
			Port:              22,
			ConnectTimeoutSec: 5,
			StrictHostKey:     string(sshutil.HostKeyAcceptNew),
		},
		Check: CheckConfig{IntervalSec: 30, CommandTimeoutSec: 10},
		Thresholds: ThresholdConfig{
			MaxStratum:      health.DefaultThresholds().MaxStratum,
			MaxAbsOffsetSec: health.DefaultThresholds().MaxAbsOffsetSec,
		},
		GPS:      GPSConfig{TimeoutSec: 8, Samples: 5, Format: sampler.FormatJSON},
		Log:      LogConfig{Path: "/var/log/ntp-checker.log", Level: "DEBUG"},
		Database: DatabaseConfig{Table: store.DefaultTable},
		Email:    EmailConfig{SMTPHost: notify.DefaultSMTPHost, SMTPPort: notify.DefaultSMTPPort},
		MQTT:     MQTTConfig{Topic: notify.DefaultMQTTTopic, ClientID: notify.DefaultMQTTClientID},
	}
}

// Label is the appliance label used in logs and alerts.
func (c Config) Label() string {
	return c.SamplerOptions().Label()
}

// Interval is the time between cycle starts.
func (c Config) Interval() time.Duration {
	return seconds(c.Check.IntervalSec)
}

// Thresholds converts the threshold settings for the evaluator.
func (c Config) Thresholds() health.Thresholds {
	return health.Thresholds{
		MaxStratum:      c.Thresholds.MaxStratum,
		MaxAbsOffsetSec: c.Thresholds.MaxAbsOffsetSec,
	}
}

// SamplerOptions converts the settings for the sampler.
func (c Config) SamplerOptions() sampler.Options {
	return sampler.Options{
		Host:           c.Target.Host,
		FallbackIP:     c.Target.FallbackIP,
		CommandTimeout: seconds(c.Check.CommandTimeoutSec),
		FixTimeout:     seconds(c.GPS.TimeoutSec),
		FixSamples:     c.GPS.Samples,
		FixFormat:      strings.ToLower(c.GPS.Format),
	}
}

// SSHOptions converts the settings for the SSH client.
func (c Config) SSHOptions() (sshutil.Options, error) {
	mode, err := sshutil.ParseHostKeyMode(c.SSH.StrictHostKey)
	if err != nil {
		return sshutil.Options{}, err
	}
	return sshutil.Options{
		Host:           c.Target.Host,
		FallbackIP:     c.Target.FallbackIP,
		User:           c.SSH.User,
		Port:           c.SSH.Port,
		KeyPath:        c.SSH.Key,
		ConnectTimeout: seconds(c.SSH.ConnectTimeoutSec),
		HostKeyMode:    mode,
		KnownHostsPath: c.SSH.KnownHosts,
		SSHConfigPath:  c.SSH.ConfigFile,
	}, nil
}

// LoggerOptions converts the log settings.
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{Path: c.Log.Path, Level: c.Log.Level}
}

// StoreOptions converts the database settings.
func (c Config) StoreOptions(log logger.Logger) store.OpenOptions {
	return store.OpenOptions{
		URL:     c.Database.URL,
		Table:   c.Database.Table,
		Migrate: c.Database.Migrate,
		Log:     log,
	}
}

// SMTPOptions converts the mail settings.
func (c Config) SMTPOptions() notify.SMTPOptions {
	return notify.SMTPOptions{
		Host:     c.Email.SMTPHost,
		Port:     c.Email.SMTPPort,
		Username: c.Email.Username,
		Password: c.Email.Password,
		From:     c.Email.Sender,
		To:       []string{c.Email.Receiver1, c.Email.Receiver2},
	}
}

// MQTTOptions converts the MQTT settings. Broker is empty when the channel
// is disabled.
func (c Config) MQTTOptions() notify.MQTTOptions {
	return notify.MQTTOptions{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
	}
}

// SuppressWindow is how long a repeated alert is held back. Zero disables it.
func (c Config) SuppressWindow() time.Duration {
	return seconds(c.Alert.SuppressSec)
}

// Redacted returns a copy safe to print: passwords masked and database
// credentials removed.
func (c Config) Redacted() Config {
	if c.Email.Password != "" {
		c.Email.Password = redactedValue
	}
	c.Database.URL = store.RedactURL(c.Database.URL)
	c.MQTT.Broker = store.RedactURL(c.MQTT.Broker)
	return c
}

const redactedValue = "***"

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
