package controller

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/collector"
	"github.com/xkilldash9x/delver/internal/config"
	"github.com/xkilldash9x/delver/internal/metrics"
)

// BuildCollectors constructs a collector for every enabled surface. A surface
// whose OS source cannot be opened gets a collector.Unavailable so the
// failure is reported as that surface's outcome instead of aborting the run.
func BuildCollectors(cfg config.MonitorConfig, m *metrics.Metrics, logger *zap.Logger) map[schemas.Surface]collector.Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	builders := map[schemas.Surface]func() (collector.Collector, error){
		schemas.SurfaceProcess: func() (collector.Collector, error) {
			src, err := collector.NewProcessSource()
			if err != nil {
				return nil, err
			}
			return collector.NewProcessCollector(src, collector.ProcessOptions{
				Interval: cfg.Process.Interval,
				Metrics:  m,
			}, logger)
		},
		schemas.SurfaceRegistry: func() (collector.Collector, error) {
			src, err := collector.NewRegistrySource()
			if err != nil {
				return nil, err
			}
			return collector.NewRegistryCollector(src, collector.RegistryOptions{
				Keys:     cfg.Registry.Keys,
				Interval: cfg.Registry.Interval,
				Metrics:  m,
			}, logger)
		},
		schemas.SurfacePersistence: func() (collector.Collector, error) {
			src, err := collector.DefaultPersistenceSources()
			if err != nil {
				return nil, err
			}
			return collector.NewPersistenceCollector(src, collector.PersistenceOptions{
				StartupFolders:          config.ExpandPaths(cfg.Persistence.StartupFolders),
				RunKeys:                 cfg.Persistence.RunKeys,
				Interval:                cfg.Persistence.Interval,
				ResolveBaselineServices: cfg.Persistence.ResolveBaselineServices,
				LookupRate:              cfg.Persistence.LookupRate,
				LookupBurst:             cfg.Persistence.LookupBurst,
				Metrics:                 m,
			}, logger)
		},
		schemas.SurfaceFilesystem: func() (collector.Collector, error) {
			return collector.NewFilesystemCollector(collector.FilesystemOptions{
				Dirs:     config.ExpandPaths(cfg.Filesystem.Dirs),
				Interval: cfg.Filesystem.Interval,
				Metrics:  m,
			}, logger)
		},
		schemas.SurfaceNetwork: func() (collector.Collector, error) {
			capturer, err := collector.NewCapturer()
			if err != nil {
				return nil, err
			}
			return collector.NewNetworkCollector(capturer, collector.NetworkOptions{
				Ports:      cfg.Network.Ports,
				Interfaces: cfg.Network.Interfaces,
				Snaplen:    cfg.Network.Snaplen,
				Interval:   cfg.Network.Interval,
				Metrics:    m,
			}, logger)
		},
	}

	out := make(map[schemas.Surface]collector.Collector, len(builders))
	for _, surface := range schemas.Surfaces() {
		if !cfg.SurfaceEnabled(string(surface)) {
			logger.Debug("Surface disabled by configuration", zap.String("surface", string(surface)))
			continue
		}
		col, err := builders[surface]()
		if err != nil {
			logger.Warn("Collector unavailable", zap.String("surface", string(surface)), zap.Error(err))
			out[surface] = collector.NewUnavailable(surface, err)
			continue
		}
		out[surface] = col
	}
	return out
}
