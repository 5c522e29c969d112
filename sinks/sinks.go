// Package sinks opens the tracking sinks selected in the configuration.
package sinks

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/scitrack/config"
	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/sinks/memory"
	"github.com/YuminosukeSato/scitrack/sinks/mlflow"
	"github.com/YuminosukeSato/scitrack/sinks/offline"
	"github.com/YuminosukeSato/scitrack/sinks/prom"
	"github.com/YuminosukeSato/scitrack/sinks/sqlstore"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// OfflineExt is the file extension of offline run files.
const OfflineExt = ".sct"

// Open opens every backend listed in cfg.Tracking.Backends. Several
// backends are combined with tracking.Tee. If one backend fails to open,
// the ones already opened are closed again.
func Open(ctx context.Context, cfg config.Config) (tracking.Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.GetLogger().With(log.ComponentKey, "sinks")

	opened := make([]tracking.Sink, 0, len(cfg.Tracking.Backends))
	for _, backend := range cfg.Tracking.Backends {
		s, err := openBackend(ctx, backend, cfg)
		if err != nil {
			for _, o := range opened {
				if cerr := o.Close(ctx); cerr != nil {
					logger.Warn("closing sink after failed open", log.SinkNameKey, tracking.SinkName(o), log.ErrAttrKey, cerr)
				}
			}
			return nil, errors.Wrapf(err, "open %s backend", backend)
		}
		logger.Debug("sink opened", log.SinkNameKey, tracking.SinkName(s))
		opened = append(opened, s)
	}
	return tracking.Tee(opened...), nil
}

// AdapterOptions translates cfg into adapter options.
func AdapterOptions(cfg config.Config) ([]tracking.Option, error) {
	policy, err := tracking.ParseNonFinitePolicy(cfg.Tracking.NonFinite)
	if err != nil {
		return nil, err
	}
	return []tracking.Option{
		tracking.WithNonFinitePolicy(policy),
		tracking.WithLogger(log.GetLogger()),
	}, nil
}

func openBackend(ctx context.Context, backend string, cfg config.Config) (tracking.Sink, error) {
	switch backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendOffline:
		return OpenOffline(cfg)
	case config.BackendSQL:
		return sqlstore.Open(ctx, sqlstore.Config{
			Driver:  cfg.SQL.Driver,
			URL:     cfg.SQL.URL,
			RunName: cfg.Tracking.RunName,
		})
	case config.BackendMLflow:
		return mlflow.Open(ctx, mlflow.Config{
			TrackingURI:    cfg.MLflow.TrackingURI,
			Token:          cfg.MLflow.Token,
			ExperimentName: cfg.MLflow.ExperimentName,
			RunName:        cfg.Tracking.RunName,
			Tags:           cfg.Tracking.Tags,
			HTTPTimeout:    cfg.MLflow.HTTPTimeout,
		})
	case config.BackendPrometheus:
		return prom.New(prom.Config{
			Namespace: cfg.Prometheus.Namespace,
			PushURL:   cfg.Prometheus.PushURL,
			Job:       cfg.Prometheus.Job,
			RunName:   cfg.Tracking.RunName,
		}), nil
	default:
		return nil, errors.NewValidationError("tracking.backends", "unknown backend", backend)
	}
}

// OpenOffline creates a new run file named after a fresh run id in
// cfg.Offline.Dir.
func OpenOffline(cfg config.Config) (*offline.Sink, error) {
	if err := os.MkdirAll(cfg.Offline.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create offline dir")
	}
	runID := uuid.NewString()
	path := filepath.Join(cfg.Offline.Dir, runID+OfflineExt)
	return offline.Create(path,
		offline.WithRunID(runID),
		offline.WithRunName(cfg.Tracking.RunName),
		offline.WithTags(cfg.Tracking.Tags),
	)
}
