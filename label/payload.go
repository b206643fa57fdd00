package label

import "encoding/json"

// EarFinding captures the decision-relevant label for one ear.
type EarFinding struct {
	LossType         string `json:"loss_type"`
	Severity         string `json:"severity"`
	FrequencyProfile string `json:"frequency_profile"`
}

// Payload is a rater's structured label for a case. Notes carry free text
// for the reviewing audiologists and never participate in consensus.
type Payload struct {
	Right          EarFinding `json:"right"`
	Left           EarFinding `json:"left"`
	Recommendation string     `json:"recommendation"`
	Notes          string     `json:"notes,omitempty"`
}

// Recognised loss types, severities and recommendations. Stored as text so
// historic submissions survive vocabulary additions.
const (
	LossNormal        = "normal"
	LossConductive    = "conductive"
	LossSensorineural = "sensorineural"
	LossMixed         = "mixed"

	SeverityNormal   = "normal"
	SeverityMild     = "mild"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
	SeverityProfound = "profound"

	RecommendNone    = "none"
	RecommendMonitor = "monitor"
	RecommendRefer   = "refer"
)

// Decode parses a stored payload. A payload that fails to parse is returned
// as the zero value, which Equal treats as incomplete: a corrupt label
// degrades to a dispute instead of aborting the submission write.
func Decode(raw []byte) Payload {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}
	}
	return p
}

func (f EarFinding) complete() bool {
	return f.LossType != "" && f.Severity != "" && f.FrequencyProfile != ""
}

// Complete reports whether all decision-relevant fields are present.
func (p Payload) Complete() bool {
	return p.Right.complete() && p.Left.complete() && p.Recommendation != ""
}
