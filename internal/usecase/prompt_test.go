package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"whistle-agent/internal/domain"
)

func TestIsJudgmentRequest(t *testing.T) {
	require.True(t, IsJudgmentRequest("판정 요청"))
	require.True(t, IsJudgmentRequest("이제 판단 요청드립니다"))
	require.False(t, IsJudgmentRequest("판정을 요청하고 싶어요"))
	require.False(t, IsJudgmentRequest("회삿돈을 유용한 사례가 있습니다"))
}

func TestMismatch(t *testing.T) {
	require.True(t, mismatch("A.pdf", "B.pdf"))
	require.False(t, mismatch("A.pdf", "A.pdf_v2"))
	require.False(t, mismatch("A.pdf", "A.pdf"))
	require.False(t, mismatch("", "B.pdf"))
	require.False(t, mismatch("A.pdf", ""))
}

func TestRecentHistory(t *testing.T) {
	msgs := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleAssistant, Content: "greet"},
		{Role: domain.RoleUser, Content: "u1"},
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleUser, Content: "u2"},
		{Role: domain.RoleAssistant, Content: "a2"},
		{Role: domain.RoleUser, Content: "current"},
	}
	require.Equal(t, "assistant: greet\nuser: u1\nassistant: a1\nuser: u2", recentHistory(msgs[:6]))
	require.Equal(t, "assistant: greet\nuser: u1\nassistant: a1\nuser: u2\nassistant: a2", recentHistory(msgs))

	longer := append(append([]domain.ChatMessage{}, msgs[:6]...),
		domain.ChatMessage{Role: domain.RoleUser, Content: "u3"},
		domain.ChatMessage{Role: domain.RoleUser, Content: "current"},
	)
	require.Equal(t, "user: u1\nassistant: a1\nuser: u2\nassistant: a2\nuser: u3", recentHistory(longer))
	require.Empty(t, recentHistory(msgs[:1]))
	require.Empty(t, recentHistory(nil))
}

func TestBuildJudgmentMessages_EmptyPolicy(t *testing.T) {
	msgs := buildJudgmentMessages("user: hi", "")
	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[1].Content, noPolicyContext)
	require.Contains(t, msgs[1].Content, "대화 기록:\nuser: hi")
}
