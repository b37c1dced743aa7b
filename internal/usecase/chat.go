package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whistle-agent/internal/domain"
	"whistle-agent/internal/retriever"
)

const defaultMaxMessageLen = 4000

// ConversationStore owns conversation state. GetOrCreate seeds unknown ids
// with the system prompt.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, conversationID string) (*domain.ConversationState, error)
	Save(ctx context.Context, state *domain.ConversationState) error
}

// ReportStore assigns conversation ids and keeps evidence records.
type ReportStore interface {
	CreateReport(ctx context.Context) (string, error)
	SaveEvidence(ctx context.Context, conversationID string, ev domain.Evidence) error
}

type Oracle interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, format domain.ResponseFormat) (string, error)
}

type ContextRetriever interface {
	GetContext(ctx context.Context, query, requestedDocID string) retriever.Context
}

// ChatService drives conversational turns and delegates judgment requests
// to the JudgmentEngine.
type ChatService struct {
	store         ConversationStore
	reports       ReportStore
	retriever     ContextRetriever
	oracle        Oracle
	judge         *JudgmentEngine
	locks         *keyedMutex
	maxMessageLen int
	log           zerolog.Logger
}

type StartOutput struct {
	ConversationID string
	Message        string
}

type MessageInput struct {
	ConversationID string
	Message        string
}

type MessageOutput struct {
	ConversationID   string
	Reply            string
	ReadyForJudgment bool
	Judged           bool
	Decision         *domain.JudgeDecision
}

type EvidenceInput struct {
	ConversationID string
	ID             string
	Filename       string
	ExtractedText  string
}

type EvidenceOutput struct {
	ConversationID   string
	Reply            string
	Evidence         domain.Evidence
	ReadyForJudgment bool
}

type JudgmentOutput struct {
	ConversationID string
	Report         string
	Judged         bool
	Decision       *domain.JudgeDecision
}

func NewChatService(store ConversationStore, reports ReportStore, r ContextRetriever, o Oracle, maxMessageLen int, log zerolog.Logger) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if reports == nil {
		return nil, errors.New("usecase: report store must not be nil")
	}
	judge, err := NewJudgmentEngine(r, o, log)
	if err != nil {
		return nil, err
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &ChatService{
		store:         store,
		reports:       reports,
		retriever:     r,
		oracle:        o,
		judge:         judge,
		locks:         newKeyedMutex(),
		maxMessageLen: maxMessageLen,
		log:           log.With().Str("component", "chat").Logger(),
	}, nil
}

// Start opens a new conversation and returns its greeting.
func (s *ChatService) Start(ctx context.Context) (StartOutput, error) {
	id, err := s.reports.CreateReport(ctx)
	if err != nil {
		return StartOutput{}, newError(ErrorInternal, "report_create_error", err)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	state, err := s.store.GetOrCreate(ctx, id)
	if err != nil {
		return StartOutput{}, newError(ErrorInternal, "state_load_error", err)
	}
	state.Append(domain.RoleAssistant, Greeting)
	if err := s.store.Save(ctx, state); err != nil {
		return StartOutput{}, newError(ErrorInternal, "state_save_error", err)
	}
	s.log.Info().Str("conversation_id", id).Msg("conversation started")
	return StartOutput{ConversationID: id, Message: Greeting}, nil
}

// ProcessMessage runs one user turn. A message containing a judgment trigger
// is answered with the judgment report.
func (s *ChatService) ProcessMessage(ctx context.Context, in MessageInput) (MessageOutput, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return MessageOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return MessageOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return MessageOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	unlock := s.locks.Lock(convID)
	defer unlock()

	state, err := s.store.GetOrCreate(ctx, convID)
	if err != nil {
		return MessageOutput{}, newError(ErrorInternal, "state_load_error", err)
	}
	return s.turn(ctx, state, message)
}

// SubmitEvidence records an uploaded file and announces it to the
// conversation as a user message naming the file.
func (s *ChatService) SubmitEvidence(ctx context.Context, in EvidenceInput) (EvidenceOutput, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return EvidenceOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return EvidenceOutput{}, newError(ErrorInvalidInput, "missing_filename", nil)
	}
	ev := domain.Evidence{
		ID:            strings.TrimSpace(in.ID),
		Filename:      filename,
		ExtractedText: in.ExtractedText,
	}
	if ev.ID == "" {
		ev.ID = newUUID()
	}

	unlock := s.locks.Lock(convID)
	defer unlock()

	state, err := s.store.GetOrCreate(ctx, convID)
	if err != nil {
		return EvidenceOutput{}, newError(ErrorInternal, "state_load_error", err)
	}
	if err := s.reports.SaveEvidence(ctx, convID, ev); err != nil {
		return EvidenceOutput{}, newError(ErrorInternal, "evidence_save_error", err)
	}

	out, err := s.turn(ctx, state, fmt.Sprintf("증거 자료가 업로드되었습니다: %s", filename))
	if err != nil {
		return EvidenceOutput{}, err
	}
	return EvidenceOutput{
		ConversationID:   convID,
		Reply:            out.Reply,
		Evidence:         ev,
		ReadyForJudgment: out.ReadyForJudgment,
	}, nil
}

// MakeJudgment judges the conversation without adding a user turn.
func (s *ChatService) MakeJudgment(ctx context.Context, conversationID string) (JudgmentOutput, error) {
	convID := strings.TrimSpace(conversationID)
	if convID == "" {
		return JudgmentOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}

	unlock := s.locks.Lock(convID)
	defer unlock()

	state, err := s.store.GetOrCreate(ctx, convID)
	if err != nil {
		return JudgmentOutput{}, newError(ErrorInternal, "state_load_error", err)
	}
	cp := state.Checkpoint()
	res, err := s.judge.Judge(ctx, state)
	if err != nil {
		state.Restore(cp)
		s.log.Error().Err(err).Str("conversation_id", convID).Msg("judgment oracle call failed")
		return JudgmentOutput{}, oracleError(err)
	}
	if err := s.store.Save(ctx, state); err != nil {
		state.Restore(cp)
		return JudgmentOutput{}, newError(ErrorInternal, "state_save_error", err)
	}
	return JudgmentOutput{
		ConversationID: convID,
		Report:         res.Report,
		Judged:         res.Judged,
		Decision:       res.Decision,
	}, nil
}

// turn appends the user message, answers it and saves the state. Any
// failure restores the state to where it was before the turn.
func (s *ChatService) turn(ctx context.Context, state *domain.ConversationState, message string) (MessageOutput, error) {
	cp := state.Checkpoint()
	state.Append(domain.RoleUser, message)
	state.TurnCount++

	logger := s.log.With().Str("conversation_id", state.ConversationID).Int("turn", state.TurnCount).Logger()

	out := MessageOutput{ConversationID: state.ConversationID}
	if IsJudgmentRequest(message) {
		res, err := s.judge.Judge(ctx, state)
		if err != nil {
			state.Restore(cp)
			logger.Error().Err(err).Msg("judgment oracle call failed")
			return MessageOutput{}, oracleError(err)
		}
		out.Reply = res.Report
		out.Judged = res.Judged
		out.Decision = res.Decision
	} else {
		reply, err := s.reply(ctx, state, message, logger)
		if err != nil {
			state.Restore(cp)
			logger.Error().Err(err).Msg("oracle call failed")
			return MessageOutput{}, oracleError(err)
		}
		state.Append(domain.RoleAssistant, reply)
		out.Reply = reply
		out.Judged = state.Judged
	}

	if err := s.store.Save(ctx, state); err != nil {
		state.Restore(cp)
		return MessageOutput{}, newError(ErrorInternal, "state_save_error", err)
	}
	out.ReadyForJudgment = state.TurnCount >= nudgeTurnThreshold
	return out, nil
}

func (s *ChatService) reply(ctx context.Context, state *domain.ConversationState, message string, logger zerolog.Logger) (string, error) {
	docRef := documentRef(message)
	pc := s.retriever.GetContext(ctx, message, docRef)

	var disclaimer string
	if mismatch(docRef, pc.DocID) {
		disclaimer = replyDisclaimer(docRef, pc.DocID)
		logger.Info().Str("requested_doc", docRef).Str("retrieved_doc", pc.DocID).Msg("requested document not used")
	}

	reply, err := s.oracle.Complete(ctx, buildReplyMessages(state, message, pc.Text, disclaimer), domain.TextFormat())
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if disclaimer != "" && !strings.Contains(reply, disclaimer) {
		reply = disclaimer + "\n\n" + reply
	}
	if state.TurnCount >= nudgeTurnThreshold {
		reply += JudgmentNudge
	}
	return reply, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
