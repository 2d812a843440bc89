package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/delver/api/schemas"
)

func proc(pid int, path, ptype string) schemas.RawEvent {
	return schemas.RawEvent{Kind: schemas.KindCreated, Surface: schemas.SurfaceProcess, PID: pid, Name: "p", Path: path, ProcessType: ptype}
}

func TestProcessRisk(t *testing.T) {
	assert.Equal(t, schemas.RiskSafe, processRisk(`c:\windows\system32\svchost.exe`, "system"))
	assert.Equal(t, schemas.RiskMedium, processRisk(`c:\windows\syswow64\cmd.exe`, "user"))
	assert.Equal(t, schemas.RiskHigh, processRisk(`c:\users\x\appdata\local\temp\a.exe`, "user"))
	assert.Equal(t, schemas.RiskHigh, processRisk(`c:\temp\a.exe`, "system"))
	assert.Equal(t, schemas.RiskMedium, processRisk(`d:\tools\a.exe`, "user"))
	assert.Equal(t, schemas.RiskMedium, processRisk("", "user"))
	assert.Equal(t, schemas.RiskHigh, processRisk("/home/users/x/a", "user"))
}

func TestProcessClassifier_DedupeKeepsMaxRisk(t *testing.T) {
	events := []schemas.RawEvent{
		proc(100, `C:\Windows\System32\svc.exe`, "system"),
		proc(100, `c:\windows\system32\SVC.exe`, "user"),
		proc(200, `C:\Users\x\AppData\Roaming\a.exe`, "user"),
		proc(200, `C:\Users\x\AppData\Roaming\a.exe`, "system"),
		proc(300, `D:\bin\tool.exe`, "user"),
	}
	got := ProcessClassifier{}.Classify(events)
	require.Len(t, got, 3)

	assert.Equal(t, 100, got[0].Details["pid"])
	assert.Equal(t, schemas.RiskMedium, got[0].RiskLevel, "safe then medium keeps medium")
	assert.Equal(t, `c:\windows\system32\svc.exe`, got[0].Details["path"])

	assert.Equal(t, 200, got[1].Details["pid"])
	assert.Equal(t, schemas.RiskHigh, got[1].RiskLevel)

	assert.Equal(t, 300, got[2].Details["pid"])
	assert.Equal(t, schemas.RiskMedium, got[2].RiskLevel)
}

func TestProcessClassifier_DedupeIsOrderIndependentForRisk(t *testing.T) {
	a := proc(7, `C:\Windows\System32\x.exe`, "system")
	b := proc(7, `C:\Windows\System32\x.exe`, "user")
	first := ProcessClassifier{}.Classify([]schemas.RawEvent{a, b})
	second := ProcessClassifier{}.Classify([]schemas.RawEvent{b, a})
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].RiskLevel, second[0].RiskLevel)
}

func TestProcessClassifier_SkipsIncomplete(t *testing.T) {
	got := ProcessClassifier{}.Classify([]schemas.RawEvent{
		proc(0, `C:\a.exe`, "user"),
		proc(9, "", "user"),
	})
	assert.Empty(t, got)
}
