package schemas

// -- Static Analysis Schemas --
//
// These types describe what the external static analysis pipeline hands over.
// The JSON names follow that pipeline's output so a results file can be
// loaded without translation.

// Static category names, as they appear in a RiskBreakdown.
const (
	StaticMetadata = "metadata"
	StaticSections = "sections"
	StaticHashes   = "hashes"
	StaticImports  = "imports"
	StaticEntropy  = "entropy"
	StaticStrings  = "strings"
)

// StaticCategories returns the six static category names in scoring order.
func StaticCategories() []string {
	return []string{StaticMetadata, StaticSections, StaticHashes, StaticImports, StaticEntropy, StaticStrings}
}

// Classified is a single analyser verdict: a free-text result plus an optional severity.
type Classified struct {
	Result   string `json:"result"`
	Severity string `json:"severity,omitempty"`
}

// MetadataResults holds the PE metadata anomalies.
type MetadataResults struct {
	// FlaggedSectionNames maps each flagged section name to its verdict.
	FlaggedSectionNames map[string]Classified `json:"fileSectionsNames,omitempty"`
	FileSize            FileSizeResult        `json:"fileSize"`
	// Timestamps maps a timestamp field (compile time, debug stamp...) to its verdict.
	Timestamps map[string]Classified `json:"fileTimeStamps,omitempty"`
}

// FileSizeResult wraps the file size verdict one level deep, the way the
// metadata analyser nests it under "fileSize".
type FileSizeResult struct {
	Verdict Classified `json:"fileSize"`
}

// SectionIssue is one section-level anomaly.
type SectionIssue struct {
	Section  string `json:"section"`
	Severity string `json:"severity"`
	Result   string `json:"result"`
}

// SectionResults holds section table anomalies and non-standard sections.
type SectionResults struct {
	Anomalies          []SectionIssue `json:"anomalies,omitempty"`
	SuspiciousSections []SectionIssue `json:"suspiciousSections,omitempty"`
}

// HashVerdict is a hash lookup result; Result is "Malicious" on a hit.
type HashVerdict struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
	Result    string `json:"result"`
}

// HashResults wraps the hash verdicts.
type HashResults struct {
	Hashes []HashVerdict `json:"hashes,omitempty"`
}

// ImportHit is the classification of one imported function.
type ImportHit struct {
	Category string `json:"category,omitempty"`
	Severity string `json:"severity"`
}

// EntropyMeasure is the whole-file Shannon entropy verdict.
type EntropyMeasure struct {
	Value    float64 `json:"value"`
	Severity string  `json:"severity,omitempty"`
}

// SpikeMeasure counts high-entropy windows.
type SpikeMeasure struct {
	Value    int    `json:"value"`
	Severity string `json:"severity,omitempty"`
}

// EntropyResults holds the entropy analysis.
type EntropyResults struct {
	Shannon EntropyMeasure `json:"shannon"`
	Spikes  SpikeMeasure   `json:"spikes"`
}

// StringHit is one extracted string and its classification
// ("Malicious", "Suspicious", "Not Flagged").
type StringHit struct {
	Value          string `json:"value"`
	Classification string `json:"classification"`
}

// StaticResults is the static pipeline's full output, grouped into the six
// fixed categories.
type StaticResults struct {
	Metadata MetadataResults `json:"metadata"`
	Sections SectionResults  `json:"sections"`
	Hashes   HashResults     `json:"hashes"`
	// Imports maps DLL name to imported function to classification.
	Imports map[string]map[string]ImportHit `json:"imports,omitempty"`
	Entropy EntropyResults                  `json:"entropy"`
	// Strings maps a string category (urls, ips, commands...) to its hits.
	Strings map[string][]StringHit `json:"strings,omitempty"`
}
