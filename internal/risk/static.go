package risk

import (
	"strings"

	"github.com/xkilldash9x/delver/api/schemas"
)

const (
	fileSizeMarker        = "Very large"
	futureTimestampMarker = "Timestamp in the future"
	maliciousHash         = "Malicious"
)

// stringWeights scores extracted strings by category and classification.
var stringWeights = map[string]map[string]int{
	"urls":         {"Malicious": 20, "Suspicious": 5},
	"commands":     {"Suspicious": 5},
	"registryKeys": {"Suspicious": 5},
	"filePaths":    {"Suspicious": 5},
	"emails":       {"Suspicious": 3},
	"ips":          {"Malicious": 20},
	"base64":       {},
}

var shannonWeights = map[string]int{"high": 10, "medium": 5, "low": 1}

// ScoreStatic scores each of the six static categories.
func ScoreStatic(s schemas.StaticResults) map[string]int {
	return map[string]int{
		schemas.StaticMetadata: scoreMetadata(s.Metadata),
		schemas.StaticSections: scoreSections(s.Sections),
		schemas.StaticHashes:   scoreHashes(s.Hashes),
		schemas.StaticImports:  scoreImports(s.Imports),
		schemas.StaticEntropy:  scoreEntropy(s.Entropy),
		schemas.StaticStrings:  scoreStrings(s.Strings),
	}
}

func scoreMetadata(m schemas.MetadataResults) int {
	score := 5 * len(m.FlaggedSectionNames)
	if strings.Contains(m.FileSize.Verdict.Result, fileSizeMarker) {
		score += 2
	}
	for _, ts := range m.Timestamps {
		if ts.Result == futureTimestampMarker {
			score += 3
		}
	}
	return score
}

func scoreSections(s schemas.SectionResults) int {
	return 5*len(s.Anomalies) + 10*len(s.SuspiciousSections)
}

func scoreHashes(h schemas.HashResults) int {
	score := 0
	for _, v := range h.Hashes {
		if v.Result == maliciousHash {
			score += 50
		}
	}
	return score
}

func scoreImports(imports map[string]map[string]schemas.ImportHit) int {
	score := 0
	for _, funcs := range imports {
		for _, hit := range funcs {
			if strings.EqualFold(hit.Severity, "high") {
				score += 5
			}
		}
	}
	return score
}

func scoreEntropy(e schemas.EntropyResults) int {
	score := shannonWeights[strings.ToLower(e.Shannon.Severity)]
	switch {
	case e.Spikes.Value > 20:
		score += 5
	case e.Spikes.Value > 5:
		score++
	}
	return score
}

func scoreStrings(hits map[string][]schemas.StringHit) int {
	score := 0
	for category, entries := range hits {
		weights := stringWeights[category]
		for _, hit := range entries {
			score += weights[hit.Classification]
		}
	}
	return score
}
