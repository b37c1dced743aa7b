package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whistle-agent/internal/domain"
	"whistle-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase is the conversation surface the handler routes to.
type ChatUseCase interface {
	Start(ctx context.Context) (usecase.StartOutput, error)
	ProcessMessage(ctx context.Context, in usecase.MessageInput) (usecase.MessageOutput, error)
	SubmitEvidence(ctx context.Context, in usecase.EvidenceInput) (usecase.EvidenceOutput, error)
	MakeJudgment(ctx context.Context, conversationID string) (usecase.JudgmentOutput, error)
}

type Handler struct {
	svc ChatUseCase
	log zerolog.Logger
}

type messageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type evidenceRequest struct {
	ConversationID string `json:"conversationId"`
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	ExtractedText  string `json:"extractedText"`
}

type judgeRequest struct {
	ConversationID string `json:"conversationId"`
}

type chatResponse struct {
	ConversationID   string                `json:"conversationId"`
	Message          string                `json:"message"`
	ReadyForJudgment bool                  `json:"readyForJudgment"`
	Judged           bool                  `json:"judged"`
	Decision         *domain.JudgeDecision `json:"decision,omitempty"`
}

type fileInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type evidenceResponse struct {
	ConversationID   string   `json:"conversationId"`
	Message          string   `json:"message"`
	ReadyForJudgment bool     `json:"readyForJudgment"`
	FileInfo         fileInfo `json:"fileInfo"`
	ExtractedText    string   `json:"extractedText"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type route func(ctx context.Context, body []byte) (any, error)

func NewHandler(svc ChatUseCase, log zerolog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	return &Handler{svc: svc, log: log.With().Str("component", "handler").Logger()}, nil
}

// Handle routes an API Gateway proxy request. Failures are returned as JSON
// error bodies; the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	path := strings.TrimRight(req.Path, "/")
	logger := h.log.With().Str("correlation_id", correlationID).Str("route", path).Logger()

	resp := h.dispatch(ctx, req, path, logger)
	resp.Headers[correlationHeader] = correlationID

	ev := logger.Info()
	if resp.StatusCode >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Str("method", req.HTTPMethod).Int("status", resp.StatusCode).Msg("request handled")
	return resp, nil
}

func (h *Handler) dispatch(ctx context.Context, req events.APIGatewayProxyRequest, path string, logger zerolog.Logger) events.APIGatewayProxyResponse {
	routes := map[string]route{
		"/chat/start":    h.start,
		"/chat/message":  h.message,
		"/chat/evidence": h.evidence,
		"/chat/judge":    h.judge,
	}
	rt, ok := routes[path]
	if !ok {
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}
	if req.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
		}
		body = decoded
	}

	out, err := rt(ctx, body)
	if err != nil {
		status, er := mapError(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("reason", er.Reason).Msg("request failed")
		}
		return jsonResponse(status, er)
	}
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) start(ctx context.Context, _ []byte) (any, error) {
	out, err := h.svc.Start(ctx)
	if err != nil {
		return nil, err
	}
	return chatResponse{ConversationID: out.ConversationID, Message: out.Message}, nil
}

func (h *Handler) message(ctx context.Context, body []byte) (any, error) {
	var in messageRequest
	if err := decode(body, &in); err != nil {
		return nil, err
	}
	out, err := h.svc.ProcessMessage(ctx, usecase.MessageInput{ConversationID: in.ConversationID, Message: in.Message})
	if err != nil {
		return nil, err
	}
	return chatResponse{
		ConversationID:   out.ConversationID,
		Message:          out.Reply,
		ReadyForJudgment: out.ReadyForJudgment,
		Judged:           out.Judged,
		Decision:         out.Decision,
	}, nil
}

func (h *Handler) evidence(ctx context.Context, body []byte) (any, error) {
	var in evidenceRequest
	if err := decode(body, &in); err != nil {
		return nil, err
	}
	out, err := h.svc.SubmitEvidence(ctx, usecase.EvidenceInput{
		ConversationID: in.ConversationID,
		ID:             in.ID,
		Filename:       in.Filename,
		ExtractedText:  in.ExtractedText,
	})
	if err != nil {
		return nil, err
	}
	return evidenceResponse{
		ConversationID:   out.ConversationID,
		Message:          out.Reply,
		ReadyForJudgment: out.ReadyForJudgment,
		FileInfo:         fileInfo{ID: out.Evidence.ID, Filename: out.Evidence.Filename},
		ExtractedText:    out.Evidence.ExtractedText,
	}, nil
}

func (h *Handler) judge(ctx context.Context, body []byte) (any, error) {
	var in judgeRequest
	if err := decode(body, &in); err != nil {
		return nil, err
	}
	out, err := h.svc.MakeJudgment(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	return chatResponse{
		ConversationID:   out.ConversationID,
		Message:          out.Report,
		ReadyForJudgment: true,
		Judged:           out.Judged,
		Decision:         out.Decision,
	}, nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	return nil
}

func mapError(err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "unexpected_error"}
	}
	body := errorResponse{Error: string(ue.Code), Reason: ue.Reason}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, body
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, body
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: ue.Reason}
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(buf),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
