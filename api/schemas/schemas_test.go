package schemas_test

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/delver/api/schemas"
)

func TestRiskLevel_RankAndMax(t *testing.T) {
	t.Parallel()
	order := []schemas.RiskLevel{"bogus", schemas.RiskSafe, schemas.RiskInfo, schemas.RiskLow, schemas.RiskMedium, schemas.RiskHigh}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(), "%s should outrank %s", order[i], order[i-1])
	}

	assert.Equal(t, schemas.RiskHigh, schemas.RiskMedium.Max(schemas.RiskHigh))
	assert.Equal(t, schemas.RiskHigh, schemas.RiskHigh.Max(schemas.RiskSafe))
	assert.Equal(t, schemas.RiskMedium, schemas.RiskMedium.Max(schemas.RiskMedium))
}

func TestRawEvent_Fields(t *testing.T) {
	t.Parallel()
	ts := getTestTime(t)

	ev := schemas.RawEvent{
		Kind:      schemas.KindCreated,
		Surface:   schemas.SurfaceNetwork,
		Origin:    schemas.OriginLive,
		Timestamp: ts,
		Src:       "192.168.1.20",
		Dst:       "203.0.113.9",
		Protocol:  "TCP",
		Port:      4444,
		Layers:    []string{"Ethernet", "IPv4", "TCP"},
	}
	fields := ev.Fields()

	assert.Equal(t, map[string]any{
		"surface":   "network",
		"kind":      "created",
		"src":       "192.168.1.20",
		"dst":       "203.0.113.9",
		"protocol":  "TCP",
		"port":      4444,
		"layers":    []string{"Ethernet", "IPv4", "TCP"},
		"timestamp": ts,
	}, fields)

	fields["layers"].([]string)[0] = "mutated"
	assert.Equal(t, "Ethernet", ev.Layers[0], "Fields must not alias the event")
}

func TestRawEvent_FieldsOmitsEmptyPayload(t *testing.T) {
	t.Parallel()
	fields := schemas.RawEvent{Surface: schemas.SurfaceFilesystem, Path: `C:\Temp`, IsDirectory: true}.Fields()
	assert.Equal(t, map[string]any{"surface": "filesystem", "path": `C:\Temp`, "isDirectory": true}, fields)
}

func TestStaticResults_Decode(t *testing.T) {
	t.Parallel()
	raw := `{
		"metadata": {"fileSectionsNames": {".upx0": {"result": "packer section"}}, "fileSize": {"fileSize": {"result": "Very large file"}}},
		"hashes": {"hashes": [{"algorithm": "sha256", "value": "ab12", "result": "Malicious"}]},
		"imports": {"kernel32.dll": {"VirtualAlloc": {"severity": "high"}}},
		"strings": {"urls": [{"value": "http://203.0.113.9/x", "classification": "Malicious"}]}
	}`

	var static schemas.StaticResults
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(raw), &static))
	assert.Contains(t, static.Metadata.FlaggedSectionNames, ".upx0")
	assert.Equal(t, "Very large file", static.Metadata.FileSize.Verdict.Result)
	require.Len(t, static.Hashes.Hashes, 1)
	assert.Equal(t, "Malicious", static.Hashes.Hashes[0].Result)
	assert.Equal(t, "high", static.Imports["kernel32.dll"]["VirtualAlloc"].Severity)
	assert.Len(t, static.Strings["urls"], 1)
}
