package usecase

import (
	"fmt"
	"strings"

	"whistle-agent/internal/domain"
)

const reportHeader = "[최종 판정 결과]"

// renderReport formats a validated decision. Section order is fixed.
func renderReport(d domain.JudgeDecision, disclaimer string) string {
	var b strings.Builder
	if disclaimer != "" {
		b.WriteString(disclaimer)
		b.WriteString("\n\n")
	}
	b.WriteString(reportHeader)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "위반 유형: %s\n", joinOrNone(d.ViolationType, ", "))
	fmt.Fprintf(&b, "심각도: %d (%s)\n", d.Severity, d.SeverityLabel)

	b.WriteString("권고 조치:\n")
	if len(d.RecommendedActions) == 0 {
		b.WriteString("- 없음\n")
	}
	for _, a := range d.RecommendedActions {
		fmt.Fprintf(&b, "- %s\n", a)
	}

	fmt.Fprintf(&b, "판단 근거: %s\n", d.Rationale)

	b.WriteString("관련 규정:\n")
	if len(d.PolicyLinks) == 0 {
		b.WriteString("- 없음\n")
	}
	for _, l := range d.PolicyLinks {
		fmt.Fprintf(&b, "- %s %s: \"%s\"\n", l.DocID, l.Section, l.Sentence)
	}

	fmt.Fprintf(&b, "신뢰도: %.2f\n", d.Confidence)
	needs := "아니오"
	if d.NeedsMoreEvidence {
		needs = "예"
	}
	fmt.Fprintf(&b, "추가 증거 필요: %s", needs)
	return b.String()
}

func joinOrNone(items []string, sep string) string {
	if len(items) == 0 {
		return "없음"
	}
	return strings.Join(items, sep)
}
