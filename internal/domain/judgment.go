package domain

// Canonical severity labels, keyed by severity score.
var severityLabels = map[int]string{
	0: "규정 위반 없음",
	1: "경미한 위반 (주의 또는 교육 필요)",
	2: "중대한 위반 (조사 또는 감사 필요)",
	3: "심각한 위반 (즉시 처분 또는 법적 조치 필요)",
}

const (
	MinSeverity = 0
	MaxSeverity = 3
)

// SeverityLabel returns the canonical label for severity. Out-of-range
// values fall back to the label for 0.
func SeverityLabel(severity int) string {
	if l, ok := severityLabels[severity]; ok {
		return l
	}
	return severityLabels[MinSeverity]
}

// PolicyLink cites the regulation sentence a decision relied on.
type PolicyLink struct {
	DocID    string `json:"doc_id"`
	Section  string `json:"section"`
	Sentence string `json:"sentence"`
}

// JudgeDecision is the validated structured judgment.
type JudgeDecision struct {
	ViolationType      []string     `json:"violation_type"`
	Severity           int          `json:"severity"`
	SeverityLabel      string       `json:"severity_label"`
	RecommendedActions []string     `json:"recommended_actions"`
	Rationale          string       `json:"rationale"`
	PolicyLinks        []PolicyLink `json:"policy_links"`
	Confidence         float64      `json:"confidence"`
	NeedsMoreEvidence  bool         `json:"needs_more_evidence"`
}

// NormalizeLabel overwrites SeverityLabel with the canonical label and
// reports whether the oracle-supplied value differed.
func (d *JudgeDecision) NormalizeLabel() bool {
	canonical := SeverityLabel(d.Severity)
	changed := d.SeverityLabel != canonical
	d.SeverityLabel = canonical
	return changed
}
