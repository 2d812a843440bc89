package schemas

import (
	"time"
)

// -- Surface Schemas --

// Surface identifies one of the OS areas observed while a sample runs.
type Surface string

// Constants for every monitored surface.
const (
	SurfaceProcess     Surface = "process"     // Process creation.
	SurfaceRegistry    Surface = "registry"    // Registry value changes under monitored keys.
	SurfacePersistence Surface = "persistence" // Startup folders, run keys, services, scheduled tasks.
	SurfaceFilesystem  Surface = "filesystem"  // File changes in sensitive directories.
	SurfaceNetwork     Surface = "network"     // Outbound packets.
)

// Surfaces returns every surface in canonical order.
func Surfaces() []Surface {
	return []Surface{
		SurfaceProcess,
		SurfaceRegistry,
		SurfacePersistence,
		SurfaceFilesystem,
		SurfaceNetwork,
	}
}

// Valid reports whether s is one of the known surfaces.
func (s Surface) Valid() bool {
	switch s {
	case SurfaceProcess, SurfaceRegistry, SurfacePersistence, SurfaceFilesystem, SurfaceNetwork:
		return true
	}
	return false
}

// -- Raw Event Schemas --

// EventKind describes what changed.
type EventKind string

const (
	KindAdded    EventKind = "added"
	KindRemoved  EventKind = "removed"
	KindModified EventKind = "modified"
	KindCreated  EventKind = "created"
	KindDeleted  EventKind = "deleted"
	KindMoved    EventKind = "moved"
)

// Origin tags an event as part of the pre-execution baseline or as a live change.
type Origin string

const (
	OriginBaseline Origin = "baseline"
	OriginLive     Origin = "live"
)

// PersistenceType names the persistence mechanism a persistence event belongs to.
type PersistenceType string

const (
	PersistenceStartupFolder PersistenceType = "startupFolder"
	PersistenceRunKey        PersistenceType = "runKey"
	PersistenceService       PersistenceType = "service"
	PersistenceScheduledTask PersistenceType = "scheduledTask"
)

// AccessDenied is the marker recorded for registry keys that could not be
// opened because of access restrictions.
const AccessDenied = "ACCESS_DENIED"

// RawEvent is one observed change on a surface. Only the payload fields that
// belong to the event's surface are populated. Events are values and are never
// modified after a collector emits them.
type RawEvent struct {
	Kind      EventKind `json:"kind,omitempty"`
	Surface   Surface   `json:"surface"`
	Origin    Origin    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`

	// Process payload.
	PID         int    `json:"pid,omitempty"`
	ProcessType string `json:"process_type,omitempty"`

	// Shared by process (image name), registry (value name) and persistence
	// (item, value, service or task name).
	Name string `json:"name,omitempty"`
	// Shared by process (image path), filesystem (source path) and
	// persistence (startup item path).
	Path string `json:"path,omitempty"`

	// Registry payload. Key is "<hive>\<path>".
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	Note     string `json:"note,omitempty"`

	// Persistence payload.
	PersistenceType PersistenceType `json:"persistence_type,omitempty"`
	Location        string          `json:"location,omitempty"`
	BinaryPath      string          `json:"binary_path,omitempty"`

	// Filesystem payload.
	DestPath    string `json:"dest_path,omitempty"`
	Extension   string `json:"extension,omitempty"`
	IsDirectory bool   `json:"is_directory,omitempty"`

	// Network payload. Port is 0 when the packet carries no transport port.
	Src         string   `json:"src,omitempty"`
	Dst         string   `json:"dst,omitempty"`
	Protocol    string   `json:"protocol,omitempty"`
	AppProtocol string   `json:"app_protocol,omitempty"`
	Port        int      `json:"port,omitempty"`
	Layers      []string `json:"layers,omitempty"`
}

// Fields flattens the populated payload of the event into a map suitable for
// a Finding's details. The returned map is freshly allocated.
func (e RawEvent) Fields() map[string]any {
	out := map[string]any{
		"surface": string(e.Surface),
	}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("kind", string(e.Kind))
	put("name", e.Name)
	put("path", e.Path)
	put("processType", e.ProcessType)
	put("key", e.Key)
	put("value", e.Value)
	put("oldValue", e.OldValue)
	put("newValue", e.NewValue)
	put("note", e.Note)
	put("persistenceType", string(e.PersistenceType))
	put("location", e.Location)
	put("binaryPath", e.BinaryPath)
	put("destPath", e.DestPath)
	put("extension", e.Extension)
	put("src", e.Src)
	put("dst", e.Dst)
	put("protocol", e.Protocol)
	put("appProtocol", e.AppProtocol)

	if e.PID != 0 {
		out["pid"] = e.PID
	}
	if e.Port != 0 {
		out["port"] = e.Port
	}
	if e.IsDirectory {
		out["isDirectory"] = true
	}
	if len(e.Layers) > 0 {
		layers := make([]string, len(e.Layers))
		copy(layers, e.Layers)
		out["layers"] = layers
	}
	if !e.Timestamp.IsZero() {
		out["timestamp"] = e.Timestamp.UTC()
	}
	return out
}
