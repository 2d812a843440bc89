package schemas

// -- Finding Schemas --

// RiskLevel is the risk a classifier assigns to a single finding. The values
// are lowercase to match the report and database representation.
type RiskLevel string

// Constants defining the risk levels, from least to most severe.
const (
	RiskSafe   RiskLevel = "safe"   // Observed and judged benign.
	RiskInfo   RiskLevel = "info"   // Informational only.
	RiskLow    RiskLevel = "low"    // Worth noting, not scored.
	RiskMedium RiskLevel = "medium" // Suspicious.
	RiskHigh   RiskLevel = "high"   // Strong indicator of malicious behaviour.
)

// Rank orders risk levels so that a higher rank is more severe.
// Unknown levels rank below safe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 5
	case RiskMedium:
		return 4
	case RiskLow:
		return 3
	case RiskInfo:
		return 2
	case RiskSafe:
		return 1
	default:
		return 0
	}
}

// Max returns the more severe of two risk levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > r.Rank() {
		return other
	}
	return r
}

// Finding is a classifier's verdict on one raw event, or on an aggregate of
// events (beaconing, external communication summaries). Findings are the unit
// consumed by the risk engine.
type Finding struct {
	Surface     Surface   `json:"surface"`
	Category    string    `json:"category"`    // Short machine-friendly name, e.g. "ExecutableCreated".
	Description string    `json:"description"` // Human-readable explanation.
	RiskLevel   RiskLevel `json:"risk_level"`

	// Details carries the originating event fields or the aggregate counts.
	Details map[string]any `json:"details,omitempty"`
}

// CombinedResults is the bag handed from the orchestration layer to the risk
// engine. Neither pipeline keeps a reference to it after returning its part.
type CombinedResults struct {
	Static  StaticResults         `json:"static"`
	Dynamic map[Surface][]Finding `json:"dynamic"`
}
