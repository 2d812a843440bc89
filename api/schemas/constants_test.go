package schemas_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/delver/api/schemas"
)

// TestConstants verifies that all defined constants hold their expected string values.
// These values are written to reports and to the database.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{}
		expected string
	}{
		// Surfaces
		{"SurfaceProcess", schemas.SurfaceProcess, "process"},
		{"SurfaceRegistry", schemas.SurfaceRegistry, "registry"},
		{"SurfacePersistence", schemas.SurfacePersistence, "persistence"},
		{"SurfaceFilesystem", schemas.SurfaceFilesystem, "filesystem"},
		{"SurfaceNetwork", schemas.SurfaceNetwork, "network"},

		// Event kinds and origins
		{"KindAdded", schemas.KindAdded, "added"},
		{"KindModified", schemas.KindModified, "modified"},
		{"KindMoved", schemas.KindMoved, "moved"},
		{"OriginBaseline", schemas.OriginBaseline, "baseline"},
		{"OriginLive", schemas.OriginLive, "live"},

		// Persistence types
		{"PersistenceStartupFolder", schemas.PersistenceStartupFolder, "startupFolder"},
		{"PersistenceRunKey", schemas.PersistenceRunKey, "runKey"},
		{"PersistenceService", schemas.PersistenceService, "service"},
		{"PersistenceScheduledTask", schemas.PersistenceScheduledTask, "scheduledTask"},

		// Risk levels and ratings
		{"RiskHigh", schemas.RiskHigh, "high"},
		{"RiskSafe", schemas.RiskSafe, "safe"},
		{"RatingCritical", schemas.RatingCritical, "Critical/Highly Suspicious"},
		{"RatingLow", schemas.RatingLow, "Low"},

		{"AccessDenied", schemas.AccessDenied, "ACCESS_DENIED"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, fmt.Sprint(tc.constant))
		})
	}
}

func TestSurfaces(t *testing.T) {
	t.Parallel()
	surfaces := schemas.Surfaces()
	assert.Len(t, surfaces, 5)
	assert.Equal(t, schemas.SurfaceProcess, surfaces[0])
	assert.Equal(t, schemas.SurfaceNetwork, surfaces[4])
	for _, s := range surfaces {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, schemas.Surface("dns").Valid())
	assert.False(t, schemas.Surface("").Valid())

	assert.Equal(t, []string{"metadata", "sections", "hashes", "imports", "entropy", "strings"}, schemas.StaticCategories())
}
