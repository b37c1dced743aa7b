package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"whistle-agent/internal/domain"
	"whistle-agent/internal/retriever"
)

// JudgmentResult is the outcome of one judgment attempt. Decision is nil and
// Judged false when the oracle output was rejected.
type JudgmentResult struct {
	Report   string
	Decision *domain.JudgeDecision
	Judged   bool
}

// JudgmentEngine turns a conversation into a validated decision report.
type JudgmentEngine struct {
	retriever ContextRetriever
	oracle    Oracle
	log       zerolog.Logger
}

func NewJudgmentEngine(r ContextRetriever, o Oracle, log zerolog.Logger) (*JudgmentEngine, error) {
	if r == nil {
		return nil, errors.New("usecase: context retriever must not be nil")
	}
	if o == nil {
		return nil, errors.New("usecase: oracle must not be nil")
	}
	return &JudgmentEngine{retriever: r, oracle: o, log: log.With().Str("component", "judgment").Logger()}, nil
}

// Judge asks the oracle for a structured decision over the whole
// conversation and appends the rendered report, or a fixed failure message
// when the output is unusable. The caller must hold the conversation lock.
// An oracle transport error is returned without touching state.
func (e *JudgmentEngine) Judge(ctx context.Context, state *domain.ConversationState) (JudgmentResult, error) {
	chat := transcript(state.Messages)
	docRef := lastDocumentRef(state.UserMessages())

	pc := e.retriever.GetContext(ctx, transcript(conversationMessages(state.Messages)), docRef)
	var disclaimer string
	if mismatch(docRef, pc.DocID) {
		disclaimer = judgmentDisclaimer(docRef, pc.DocID)
	}
	policy := pc.Text
	if disclaimer != "" {
		policy = disclaimer + "\n\n" + policy
	}

	raw, err := e.oracle.Complete(ctx,
		buildJudgmentMessages(chat, policy),
		domain.JSONFormat(decisionSchemaName, OracleDecisionSchema()),
	)
	if err != nil {
		return JudgmentResult{}, fmt.Errorf("usecase: judgment oracle: %w", err)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		msg := JudgmentSchemaFailure
		if errors.Is(err, errDecisionParse) {
			msg = JudgmentParseFailure
		}
		e.log.Warn().Err(err).Str("conversation_id", state.ConversationID).Msg("rejected judgment output")
		state.Append(domain.RoleAssistant, msg)
		return JudgmentResult{Report: msg}, nil
	}

	if decision.NormalizeLabel() {
		e.log.Debug().Str("conversation_id", state.ConversationID).Int("severity", decision.Severity).Msg("severity label replaced with canonical label")
	}
	report := renderReport(decision, disclaimer)
	state.Append(domain.RoleAssistant, report)
	state.Judged = true

	e.log.Info().
		Str("conversation_id", state.ConversationID).
		Int("severity", decision.Severity).
		Float64("confidence", decision.Confidence).
		Str("policy_doc", pc.DocID).
		Msg("judgment rendered")
	return JudgmentResult{Report: report, Decision: &decision, Judged: true}, nil
}

// lastDocumentRef returns the last explicit document reference across
// messages, so later requests override earlier ones.
func lastDocumentRef(messages []string) string {
	var ref string
	for _, m := range messages {
		if r := documentRef(m); r != "" {
			ref = r
		}
	}
	return ref
}

// documentRef extracts the document a user message names. Judgment trigger
// phrases are removed first so a quoted '판정 요청' is not taken for a
// document name.
func documentRef(message string) string {
	for _, t := range judgmentTriggers {
		message = strings.ReplaceAll(message, t, "")
	}
	return retriever.ExtractDocumentRef(message)
}

func conversationMessages(msgs []domain.ChatMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != domain.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
