package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/metrics"
	"go.uber.org/zap"
)

// RegistrySource reads the values directly under a key given as "<hive>\<path>".
// A key that does not exist reads as an empty map. Keys the process may not
// open return ErrAccessDenied.
type RegistrySource interface {
	ReadKey(ctx context.Context, key string) (map[string]string, error)
}

// KeyState is the content of one key in a snapshot.
type KeyState struct {
	Values map[string]string
	Denied bool
}

// RegistrySnapshot maps each monitored key to its state.
type RegistrySnapshot map[string]KeyState

// takeRegistrySnapshot reads every key. Access-denied keys are marked rather
// than failing the snapshot; any other error fails it.
func takeRegistrySnapshot(ctx context.Context, src RegistrySource, keys []string) (RegistrySnapshot, error) {
	snap := make(RegistrySnapshot, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := src.ReadKey(ctx, key)
		switch {
		case errors.Is(err, ErrAccessDenied):
			snap[key] = KeyState{Denied: true}
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", key, err)
		default:
			if values == nil {
				values = map[string]string{}
			}
			snap[key] = KeyState{Values: values}
		}
	}
	return snap, nil
}

// registryChange is one value-level difference within a key.
type registryChange struct {
	Kind     schemas.EventKind
	Key      string
	Name     string
	OldValue string
	NewValue string
}

// diffRegistrySnapshots compares two snapshots key by key. A key denied in
// either snapshot is skipped for this comparison.
func diffRegistrySnapshots(prev, cur RegistrySnapshot) []registryChange {
	var changes []registryChange
	for _, key := range unionKeys(prev, cur) {
		p, c := prev[key], cur[key]
		if p.Denied || c.Denied {
			continue
		}
		d := DiffValues(p.Values, c.Values)
		for _, name := range d.Added {
			changes = append(changes, registryChange{Kind: schemas.KindAdded, Key: key, Name: name, NewValue: c.Values[name]})
		}
		for _, name := range d.Modified {
			changes = append(changes, registryChange{Kind: schemas.KindModified, Key: key, Name: name, OldValue: p.Values[name], NewValue: c.Values[name]})
		}
		for _, name := range d.Removed {
			changes = append(changes, registryChange{Kind: schemas.KindRemoved, Key: key, Name: name, OldValue: p.Values[name]})
		}
	}
	return changes
}

func registryEvent(ch registryChange, now time.Time) schemas.RawEvent {
	ev := schemas.RawEvent{
		Kind:      ch.Kind,
		Surface:   schemas.SurfaceRegistry,
		Origin:    schemas.OriginLive,
		Timestamp: now,
		Key:       ch.Key,
		Name:      ch.Name,
	}
	switch ch.Kind {
	case schemas.KindAdded:
		ev.Value = ch.NewValue
		ev.NewValue = ch.NewValue
	case schemas.KindModified:
		ev.Value = ch.NewValue
		ev.OldValue = ch.OldValue
		ev.NewValue = ch.NewValue
	case schemas.KindRemoved:
		ev.Value = ch.OldValue
		ev.OldValue = ch.OldValue
	}
	return ev
}

func diffRegistry(prev, cur RegistrySnapshot, now time.Time) []schemas.RawEvent {
	changes := diffRegistrySnapshots(prev, cur)
	if len(changes) == 0 {
		return nil
	}
	events := make([]schemas.RawEvent, 0, len(changes))
	for _, ch := range changes {
		events = append(events, registryEvent(ch, now))
	}
	return events
}

func registryBaseline(snap RegistrySnapshot, now time.Time) []schemas.RawEvent {
	var events []schemas.RawEvent
	for _, key := range sortedKeys(snap) {
		state := snap[key]
		if state.Denied {
			events = append(events, schemas.RawEvent{
				Surface:   schemas.SurfaceRegistry,
				Origin:    schemas.OriginBaseline,
				Timestamp: now,
				Key:       key,
				Value:     schemas.AccessDenied,
				Note:      "access denied",
			})
			continue
		}
		for _, name := range sortedKeys(state.Values) {
			events = append(events, schemas.RawEvent{
				Surface:   schemas.SurfaceRegistry,
				Origin:    schemas.OriginBaseline,
				Timestamp: now,
				Key:       key,
				Name:      name,
				Value:     state.Values[name],
			})
		}
	}
	return events
}

// RegistryOptions configures a RegistryCollector.
type RegistryOptions struct {
	Keys     []string
	Interval time.Duration
	Clock    Clock
	Metrics  *metrics.Metrics
}

// RegistryCollector watches the values under a fixed list of keys.
type RegistryCollector struct {
	*poller[RegistrySnapshot]
}

// NewRegistryCollector builds a registry collector over src.
func NewRegistryCollector(src RegistrySource, opts RegistryOptions, logger *zap.Logger) (*RegistryCollector, error) {
	if src == nil {
		return nil, errors.New("registry source cannot be nil")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("registry interval must be positive")
	}
	keys := normalizeKeys(opts.Keys)
	snap := func(ctx context.Context) (RegistrySnapshot, error) {
		return takeRegistrySnapshot(ctx, src, keys)
	}
	l := namedLogger(logger, schemas.SurfaceRegistry)
	return &RegistryCollector{
		poller: newPoller[RegistrySnapshot](schemas.SurfaceRegistry, opts.Interval, snap, diffRegistry, registryBaseline, opts.Clock, l, opts.Metrics),
	}, nil
}

func (c *RegistryCollector) Surface() schemas.Surface { return schemas.SurfaceRegistry }

// normalizeKeys trims and de-duplicates keys, keeping their order.
func normalizeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.Trim(strings.TrimSpace(k), `\`)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out = append(out, k)
	}
	return out
}

// SplitKey splits "<hive>\<path>" into its hive and path.
func SplitKey(key string) (hive, path string, err error) {
	hive, path, _ = strings.Cut(key, `\`)
	if hive == "" {
		return "", "", fmt.Errorf("malformed registry key %q", key)
	}
	return strings.ToUpper(hive), path, nil
}

func namedLogger(logger *zap.Logger, surface schemas.Surface) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Named("collector").With(zap.String("surface", string(surface)))
}
