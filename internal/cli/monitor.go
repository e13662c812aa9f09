package cli

import (
	"context"

	"github.com/rileyhilliard/ntpwatch/internal/config"
	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
	"github.com/rileyhilliard/ntpwatch/internal/notify"
	"github.com/rileyhilliard/ntpwatch/internal/sampler"
	"github.com/rileyhilliard/ntpwatch/internal/store"
	"github.com/rileyhilliard/ntpwatch/internal/watch"
	"github.com/rileyhilliard/ntpwatch/pkg/sshutil"
)

// Seams for tests.
var (
	newExecutor = func(opts sshutil.Options) sshutil.Executor {
		return sshutil.NewRemote(opts)
	}
	openStore     = store.Open
	buildNotifier = defaultNotifier
)

// monitor holds everything a polling loop needs, built from one Config.
type monitor struct {
	loop  *watch.Loop
	store store.Store
}

// monitorOptions switch off the side effects of a cycle.
type monitorOptions struct {
	NoStore bool
	NoAlert bool
}

func newMonitor(ctx context.Context, cfg config.Config, log logger.Logger, opts monitorOptions) (*monitor, error) {
	sshOpts, err := cfg.SSHOptions()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Invalid SSH settings", "")
	}

	log.Debug("Appliance %s dials %s", cfg.Label(), sshutil.Describe(sshOpts))

	var st store.Store = store.Discard{}
	if !opts.NoStore {
		st, err = openStore(ctx, cfg.StoreOptions(log))
		if err != nil {
			return nil, err
		}
		log.Debug("Persisting samples to %s", describeStore(cfg))
	}

	var n notify.Notifier = notify.Multi{}
	if !opts.NoAlert {
		n = buildNotifier(cfg, log)
	}

	s := sampler.New(newExecutor(sshOpts), cfg.SamplerOptions(), log)
	loop := watch.New(s, st, n, watch.Options{
		Interval:   cfg.Interval(),
		Thresholds: cfg.Thresholds(),
	}, log)

	return &monitor{loop: loop, store: st}, nil
}

func (m *monitor) Close(log logger.Logger) {
	if err := m.store.Close(); err != nil {
		log.Warn("Closing store: %s", errors.Describe(err))
	}
}

// defaultNotifier sends by email, and also over MQTT when a broker is set.
// Email stays in the chain when nothing is configured, so the missing
// settings are reported on every alert.
func defaultNotifier(cfg config.Config, log logger.Logger) notify.Notifier {
	smtpOpts := cfg.SMTPOptions()
	mqttOpts := cfg.MQTTOptions()

	var channels notify.Multi
	if smtpOpts.Configured() || mqttOpts.Broker == "" {
		channels = append(channels, notify.NewSMTP(smtpOpts, log))
	}
	if mqttOpts.Broker != "" {
		channels = append(channels, notify.NewMQTT(mqttOpts, log))
	}
	return notify.NewSuppressor(channels, cfg.SuppressWindow(), log)
}

func describeStore(cfg config.Config) string {
	if cfg.Database.URL == "" {
		return "nowhere (DATABASE_URL not set)"
	}
	return store.RedactURL(cfg.Database.URL)
}
