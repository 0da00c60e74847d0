package verdict

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Classification labels the model is instructed to emit.
const (
	ClassAIGenerated = "AI Generated"
	ClassManipulated = "Manipulated"
	ClassRealPhoto   = "Real Photograph"
)

// Result labels returned to callers.
const (
	ResultAIGenerated  = "AI-generated detected"
	ResultManipulated  = "manipulation detected"
	ResultReal         = "verified as real"
	ResultInconclusive = "inconclusive"
)

// ConfidenceThreshold separates a decisive verdict from an inconclusive one.
const ConfidenceThreshold = 70

// LowConfidenceReason replaces the model's own reason below the threshold.
const LowConfidenceReason = "Confidence too low for a decisive verdict."

const (
	missingReason = "No explanation provided."
	maxReasonLen  = 200
)

// ErrNonJSON is returned when neither parse attempt yields a JSON object.
var ErrNonJSON = errors.New("model returned non-JSON output")

// Leftmost greedy match from the first '{' through the last '}'. This is
// deliberately not a brace-balance scanner; its behavior on input holding
// several independent objects is part of the contract.
var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

// Raw is the model's answer decoded leniently. Confidence is already coerced
// and clamped to [0,100].
type Raw struct {
	Classification string
	Confidence     float64
	Reason         string
}

// Verdict is the normalized outcome returned to clients.
type Verdict struct {
	Result     string
	Confidence float64
	Why        string
}

type rawWire struct {
	Classification json.RawMessage `json:"classification"`
	ConfidenceRaw  json.RawMessage `json:"confidence_raw"`
	Reason         json.RawMessage `json:"reason"`
}

// Parse decodes the model's answer text. First attempt is a strict parse of
// the whole text; on failure the first {...} block is extracted and parsed.
func Parse(text string) (Raw, error) {
	var w rawWire
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		block := jsonBlockRe.FindString(text)
		if block == "" {
			return Raw{}, ErrNonJSON
		}
		if err := json.Unmarshal([]byte(block), &w); err != nil {
			return Raw{}, ErrNonJSON
		}
	}
	return Raw{
		Classification: coerceString(w.Classification),
		Confidence:     coerceConfidence(w.ConfidenceRaw),
		Reason:         coerceString(w.Reason),
	}, nil
}

// Map converts a parsed answer into the final verdict. It is total: any
// input, however malformed, resolves to one of the four result labels.
func Map(raw Raw) Verdict {
	if raw.Confidence < ConfidenceThreshold {
		return Verdict{
			Result:     ResultInconclusive,
			Confidence: raw.Confidence,
			Why:        LowConfidenceReason,
		}
	}

	result := ResultInconclusive
	switch classification := strings.TrimSpace(raw.Classification); {
	case strings.EqualFold(classification, ClassAIGenerated):
		result = ResultAIGenerated
	case strings.EqualFold(classification, ClassManipulated):
		result = ResultManipulated
	case strings.EqualFold(classification, ClassRealPhoto):
		result = ResultReal
	}

	why := strings.TrimSpace(raw.Reason)
	if why == "" {
		why = missingReason
	}
	if runes := []rune(why); len(runes) > maxReasonLen {
		why = string(runes[:maxReasonLen])
	}

	return Verdict{Result: result, Confidence: raw.Confidence, Why: why}
}

func coerceString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// coerceConfidence never fails: JSON numbers and numeric strings are used,
// everything else becomes 0. Values outside [0,100] are clamped.
func coerceConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return clampConfidence(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return clampConfidence(parsed)
		}
	}
	return 0
}

func clampConfidence(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return f
}
