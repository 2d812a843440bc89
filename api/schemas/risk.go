package schemas

// Rating is the banded verdict derived from a total risk score.
type Rating string

const (
	RatingCritical Rating = "Critical/Highly Suspicious"
	RatingHigh     Rating = "High"
	RatingMedium   Rating = "Medium"
	RatingLow      Rating = "Low"
)

// RiskBreakdown is the output of one scoring call. It is computed fresh every
// time and carries no identity beyond the call.
type RiskBreakdown struct {
	// Static maps each static category to its score.
	Static map[string]int `json:"static"`
	// Dynamic maps each surface name to its score.
	Dynamic map[string]int `json:"dynamic"`

	StaticTotal  int    `json:"static_total"`
	DynamicTotal int    `json:"dynamic_total"`
	TotalScore   int    `json:"total_score"`
	Rating       Rating `json:"rating"`
}
