package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/delver/api/schemas"
)

func TestPersistenceClassifier(t *testing.T) {
	tests := []struct {
		name     string
		event    schemas.RawEvent
		category string
		risk     schemas.RiskLevel
	}{
		{
			name:     "startup shortcut",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: schemas.PersistenceStartupFolder, Name: "updater.lnk", Path: `C:\Users\x\Startup\updater.lnk`},
			category: "Persistence: Startup Folder",
			risk:     schemas.RiskMedium,
		},
		{
			name:     "startup script",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: schemas.PersistenceStartupFolder, Name: "x.vbs", Path: `C:\Users\x\Startup\x.vbs`},
			category: "Persistence: Startup Folder",
			risk:     schemas.RiskHigh,
		},
		{
			name:     "run key to user executable",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: schemas.PersistenceRunKey, Name: "Updater", Value: `C:\Users\x\AppData\Roaming\u.exe`},
			category: "Persistence: Run Registry Key",
			risk:     schemas.RiskHigh,
		},
		{
			name:     "run key to system binary",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: schemas.PersistenceRunKey, Name: "Sec", Value: `"C:\Program Files\Vendor\agent.exe" /min`},
			category: "Persistence: Run Registry Key",
			risk:     schemas.RiskMedium,
		},
		{
			name:     "service with arguments",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: schemas.PersistenceService, Name: "evilsvc", BinaryPath: `"C:\ProgramData\svc.exe" -k run`},
			category: "Persistence: Installed Service",
			risk:     schemas.RiskHigh,
		},
		{
			name:     "service without a resolved binary",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: schemas.PersistenceService, Name: "quiet"},
			category: "Persistence: Installed Service",
			risk:     schemas.RiskMedium,
		},
		{
			name:     "disguised task",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: schemas.PersistenceScheduledTask, Name: `\GoogleUpdateTaskMachine`},
			category: "Persistence: Scheduled Task",
			risk:     schemas.RiskHigh,
		},
		{
			name:     "plain task",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: schemas.PersistenceScheduledTask, Name: `\Backup`},
			category: "Persistence: Scheduled Task",
			risk:     schemas.RiskMedium,
		},
		{
			name:     "unknown type",
			event:    schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: "wmiSubscription", Value: `C:\Temp\x.exe`},
			category: "Unknown Persistence Type (wmiSubscription)",
			risk:     schemas.RiskMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PersistenceClassifier{}.Classify([]schemas.RawEvent{tt.event})
			require.Len(t, got, 1)
			assert.Equal(t, tt.category, got[0].Category)
			assert.Equal(t, tt.risk, got[0].RiskLevel)
			assert.Equal(t, schemas.SurfacePersistence, got[0].Surface)
		})
	}
}

func TestPersistenceClassifier_UnknownCarriesEvent(t *testing.T) {
	ev := schemas.RawEvent{Kind: schemas.KindAdded, PersistenceType: "bits", Name: "job"}
	got := PersistenceClassifier{}.Classify([]schemas.RawEvent{ev})
	require.Len(t, got, 1)
	assert.Equal(t, ev, got[0].Details["event"])
}

func TestPersistencePath(t *testing.T) {
	assert.Equal(t, "p", persistencePath(schemas.RawEvent{Path: "p", BinaryPath: "b", Value: "v"}))
	assert.Equal(t, "b", persistencePath(schemas.RawEvent{BinaryPath: "b", Value: "v"}))
	assert.Equal(t, "v", persistencePath(schemas.RawEvent{Value: "v"}))
}
