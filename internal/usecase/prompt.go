package usecase

import (
	"fmt"
	"strings"

	"whistle-agent/internal/domain"
)

// SystemPrompt seeds every conversation.
const SystemPrompt = `당신은 은행의 내부고발 접수 및 평가를 담당하는 AI 법률 상담가입니다. 당신은 질문과 관련된 내부 규정과 문서를 실시간으로 검색하여 그 내용을 근거로 답변합니다.
사용자가 정보의 출처를 물으면, 특정 문서를 통째로 학습한 것이 아니라 질문과 가장 관련성 높은 규정을 실시간으로 참조하여 답변한다고 설명하십시오.

다음 원칙을 지키십시오:
1. 공정하고 객관적인 태도로 상담합니다.
2. 필요한 사실관계와 증거를 빠짐없이 확인합니다.
3. 제공된 내부 규정을 최우선 근거로 삼습니다.
4. 개인정보를 보호합니다.

상담 중에는 다음 사항을 확인하십시오:
- 구체적인 사실관계
- 관련된 직원 또는 부서
- 사건 발생 시기와 기간
- 증거자료의 존재 여부
- 내부 보고 시도 여부`

// Greeting is the first assistant message of a conversation.
const Greeting = `안녕하세요. 내부고발 상담 시스템입니다.
어떤 사안에 대해 상담을 원하시나요?
구체적인 상황을 설명해 주시면 도움을 드리겠습니다.

모든 상담 내용은 비밀이 보장되며, 신고자의 신분은 보호됩니다.`

// JudgmentNudge is appended to replies once enough turns have passed.
const JudgmentNudge = "\n\n충분한 정보가 모였다면 '판정 요청'이라고 입력하여 최종 판정을 받아보실 수 있습니다."

const (
	nudgeTurnThreshold = 3
	historyWindow      = 5
	evidenceSource     = "대화 중 신고자가 진술하거나 업로드한 자료"
	noPolicyContext    = "(검색된 관련 규정이 없습니다.)"
)

// Fixed judgment failure messages.
const (
	JudgmentParseFailure  = "판정 결과를 해석하는 중 오류가 발생했습니다. 잠시 후 다시 '판정 요청'을 입력해 주세요."
	JudgmentSchemaFailure = "판정 결과가 요구되는 형식과 일치하지 않습니다. 잠시 후 다시 '판정 요청'을 입력해 주세요."
)

var judgmentTriggers = []string{"판정 요청", "판단 요청"}

// IsJudgmentRequest reports whether a user message asks for the final
// judgment.
func IsJudgmentRequest(message string) bool {
	for _, t := range judgmentTriggers {
		if strings.Contains(message, t) {
			return true
		}
	}
	return false
}

// mismatch reports whether the retrieved document differs from the one the
// user asked for. A requested id contained in the retrieved id is a match.
func mismatch(requested, retrieved string) bool {
	return requested != "" && retrieved != "" && !strings.Contains(retrieved, requested)
}

func replyDisclaimer(requested, retrieved string) string {
	return fmt.Sprintf("[안내] 요청하신 문서 '%s'에서 관련 내용을 찾지 못해 '%s'의 내용을 참고하여 답변드립니다.", requested, retrieved)
}

func judgmentDisclaimer(requested, retrieved string) string {
	return fmt.Sprintf("[안내] 요청하신 문서 '%s' 대신 '%s'의 규정을 근거로 판정하였습니다.", requested, retrieved)
}

// recentHistory formats up to historyWindow non-system messages that precede
// the last message.
func recentHistory(msgs []domain.ChatMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	var prior []domain.ChatMessage
	for _, m := range msgs[:len(msgs)-1] {
		if m.Role != domain.RoleSystem {
			prior = append(prior, m)
		}
	}
	if len(prior) > historyWindow {
		prior = prior[len(prior)-historyWindow:]
	}
	return transcript(prior)
}

func transcript(msgs []domain.ChatMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func policyOrPlaceholder(policy string) string {
	if strings.TrimSpace(policy) == "" {
		return noPolicyContext
	}
	return policy
}

func buildReplyMessages(state *domain.ConversationState, message, policy, disclaimer string) []domain.ChatMessage {
	var b strings.Builder
	if disclaimer != "" {
		b.WriteString("다음 안내 문구를 응답의 맨 앞에 그대로 포함하십시오:\n")
		b.WriteString(disclaimer)
		b.WriteString("\n\n")
	}
	b.WriteString("이전 대화 내용:\n")
	b.WriteString(recentHistory(state.Messages))
	b.WriteString("\n\n관련 정책 및 규정:\n")
	b.WriteString(policyOrPlaceholder(policy))
	b.WriteString("\n\n마지막 사용자 메시지:\n")
	b.WriteString(message)
	b.WriteString("\n\n위 맥락을 고려하여 적절한 응답을 제공해주세요.")

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: state.Messages[0].Content},
		{Role: domain.RoleSystem, Content: b.String()},
		{Role: domain.RoleUser, Content: message},
	}
}

func buildJudgmentMessages(chat, policy string) []domain.ChatMessage {
	instructions := strings.Join([]string{
		"제공된 대화 기록과 관련 규정을 바탕으로 신고 사안을 판정하고 JSON 객체 하나로만 응답하십시오.",
		"",
		"필드:",
		"- violation_type: 위반 유형 문자열 배열 (예: \"배임/횡령\", \"불완전판매\", \"이해상충\", \"개인정보 유출\")",
		"- severity: 심각도 정수 0-3",
		"  * 0: " + domain.SeverityLabel(0),
		"  * 1: " + domain.SeverityLabel(1),
		"  * 2: " + domain.SeverityLabel(2),
		"  * 3: " + domain.SeverityLabel(3),
		"- severity_label: severity에 해당하는 위 설명",
		"- recommended_actions: 권고 조치 문자열 배열 (예: \"교육\", \"시정\", \"감사 의뢰\", \"고발 검토\")",
		"- rationale: 판단 근거",
		"- policy_links: 근거 규정 배열, 각 항목은 doc_id, section, sentence",
		"- confidence: 신뢰도 0과 1 사이의 실수",
		"- needs_more_evidence: 추가 증거 필요 여부",
		"",
		"JSON 스키마:",
		string(OracleDecisionSchema()),
	}, "\n")

	input := fmt.Sprintf("대화 기록:\n%s\n\n증거자료 출처:\n%s\n\n관련 규정:\n%s", chat, evidenceSource, policyOrPlaceholder(policy))

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: instructions},
		{Role: domain.RoleUser, Content: input},
	}
}
