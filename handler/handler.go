// Package handler exposes the chat, feedback and review usecases as an API
// Gateway proxy integration.
package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"readwith/internal/domain"
	"readwith/internal/usecase"
)

const (
	correlationHeader   = "X-Correlation-Id"
	adminPasswordHeader = "X-Admin-Password"
)

type ChatUseCase interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.View, error)
	Session(ctx context.Context, sessionID string) (usecase.View, error)
}

type FeedbackUseCase interface {
	UpdateDraft(ctx context.Context, sessionID string, turnIndex int, u usecase.DraftUpdate) (usecase.View, error)
	Submit(ctx context.Context, sessionID string, turnIndex int) (usecase.SubmitOutput, error)
}

type ReviewUseCase interface {
	Authorize(ctx context.Context, password string) error
	List(ctx context.Context, status string) ([]domain.FeedbackRecord, error)
	Transition(ctx context.Context, recordID, status string) error
	Export(ctx context.Context, status string, w io.Writer) error
	Summary(ctx context.Context) (domain.FeedbackSummary, error)
	RecordDecision(ctx context.Context, in usecase.DecisionInput) (domain.TrainerDecision, error)
	ListDecisions(ctx context.Context) ([]domain.TrainerDecision, error)
	ExportDecisions(ctx context.Context, w io.Writer) error
}

type Handler struct {
	chat     ChatUseCase
	feedback FeedbackUseCase
	review   ReviewUseCase
	logger   *slog.Logger
}

func NewHandler(chat ChatUseCase, feedback FeedbackUseCase, review ReviewUseCase, logger *slog.Logger) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat usecase must not be nil")
	}
	if feedback == nil {
		return nil, errors.New("handler: feedback usecase must not be nil")
	}
	if review == nil {
		return nil, errors.New("handler: review usecase must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: chat, feedback: feedback, review: review, logger: logger}, nil
}

type sendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type draftRequest struct {
	Rating  *string `json:"rating"`
	Comment *string `json:"comment"`
	Rewrite *string `json:"rewrite"`
}

type submitResponse struct {
	RecordID string       `json:"record_id"`
	View     usecase.View `json:"view"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type decisionRequest struct {
	Decision       string `json:"decision"`
	TrainerRewrite string `json:"trainer_rewrite"`
	Notes          string `json:"notes"`
}

type listResponse struct {
	Records []domain.FeedbackRecord `json:"records"`
}

type decisionsResponse struct {
	Decisions []domain.TrainerDecision `json:"decisions"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// request is the routed view of one API Gateway event.
type request struct {
	method   string
	segments []string
	query    map[string]string
	headers  map[string]string
	body     []byte
}

func (r request) header(name string) string {
	for k, v := range r.headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Handle routes an API Gateway proxy event. Errors are always rendered as a
// response; the returned error is nil.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req := request{
		method:   strings.ToUpper(event.HTTPMethod),
		segments: splitPath(event.Path),
		query:    event.QueryStringParameters,
		headers:  event.Headers,
		body:     []byte(event.Body),
	}
	corrID := strings.TrimSpace(req.header(correlationHeader))
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := h.logger.With("correlation_id", corrID, "method", req.method, "path", event.Path)

	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return h.errorResponse(log, corrID, usecaseError(usecase.ErrorValidation, "invalid_body", err)), nil
		}
		req.body = decoded
	}

	resp, err := h.route(ctx, req)
	if err != nil {
		return h.errorResponse(log, corrID, err), nil
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID
	log.Info("request handled", "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req request) (events.APIGatewayProxyResponse, error) {
	seg := req.segments
	switch {
	case len(seg) >= 1 && seg[0] == "sessions":
		if err := checkMethod(seg, req.method); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return h.routeSessions(ctx, req, seg[1:])
	case len(seg) >= 1 && seg[0] == "review":
		if err := h.review.Authorize(ctx, req.header(adminPasswordHeader)); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		if err := checkMethod(seg, req.method); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return h.routeReview(ctx, req, seg[1:])
	}
	return events.APIGatewayProxyResponse{}, notFound()
}

func (h *Handler) routeSessions(ctx context.Context, req request, seg []string) (events.APIGatewayProxyResponse, error) {
	switch {
	// POST /sessions starts a new session with its first message.
	case len(seg) == 0 && req.method == http.MethodPost:
		var body sendRequest
		if err := decodeBody(req.body, &body); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		view, err := h.chat.Send(ctx, usecase.SendInput{SessionID: body.SessionID, Message: body.Message})
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return jsonResponse(http.StatusOK, view), nil

	case len(seg) == 1 && req.method == http.MethodGet:
		view, err := h.chat.Session(ctx, seg[0])
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return jsonResponse(http.StatusOK, view), nil

	case len(seg) == 2 && seg[1] == "messages" && req.method == http.MethodPost:
		var body sendRequest
		if err := decodeBody(req.body, &body); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		view, err := h.chat.Send(ctx, usecase.SendInput{SessionID: seg[0], Message: body.Message})
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return jsonResponse(http.StatusOK, view), nil

	case len(seg) >= 4 && seg[1] == "turns" && seg[3] == "feedback":
		turn, err := strconv.Atoi(seg[2])
		if err != nil {
			return events.APIGatewayProxyResponse{}, usecaseError(usecase.ErrorValidation, "invalid_turn_index", err)
		}
		switch {
		case len(seg) == 4 && (req.method == http.MethodPut || req.method == http.MethodPatch):
			var body draftRequest
			if err := decodeBody(req.body, &body); err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			view, err := h.feedback.UpdateDraft(ctx, seg[0], turn, usecase.DraftUpdate{
				Rating:  body.Rating,
				Comment: body.Comment,
				Rewrite: body.Rewrite,
			})
			if err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			return jsonResponse(http.StatusOK, view), nil

		case len(seg) == 5 && seg[4] == "submit" && req.method == http.MethodPost:
			out, err := h.feedback.Submit(ctx, seg[0], turn)
			if err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			return jsonResponse(http.StatusCreated, submitResponse{RecordID: out.RecordID, View: out.View}), nil
		}
	}
	return events.APIGatewayProxyResponse{}, notFound()
}

func (h *Handler) routeReview(ctx context.Context, req request, seg []string) (events.APIGatewayProxyResponse, error) {
	status := req.query["status"]
	switch {
	case len(seg) == 1 && seg[0] == "feedback" && req.method == http.MethodGet:
		recs, err := h.review.List(ctx, status)
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return jsonResponse(http.StatusOK, listResponse{Records: nonNil(recs)}), nil

	case len(seg) == 2 && seg[0] == "feedback" && seg[1] == "export" && req.method == http.MethodGet:
		var buf bytes.Buffer
		if err := h.review.Export(ctx, status, &buf); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return csvResponse("feedback_export.csv", buf.String()), nil

	case len(seg) == 3 && seg[0] == "feedback" && seg[2] == "status" && req.method == http.MethodPost:
		var body statusRequest
		if err := decodeBody(req.body, &body); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		if err := h.review.Transition(ctx, seg[1], body.Status); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil

	case len(seg) == 3 && seg[0] == "feedback" && seg[2] == "decision" && req.method == http.MethodPost:
		var body decisionRequest
		if err := decodeBody(req.body, &body); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		d, err := h.review.RecordDecision(ctx, usecase.DecisionInput{
			FeedbackID:     seg[1],
			Decision:       body.Decision,
			TrainerRewrite: body.TrainerRewrite,
			Notes:          body.Notes,
		})
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return jsonResponse(http.StatusCreated, d), nil

	case len(seg) == 1 && seg[0] == "summary" && req.method == http.MethodGet:
		sum, err := h.review.Summary(ctx)
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return jsonResponse(http.StatusOK, sum), nil

	case len(seg) == 1 && seg[0] == "decisions" && req.method == http.MethodGet:
		ds, err := h.review.ListDecisions(ctx)
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		if ds == nil {
			ds = []domain.TrainerDecision{}
		}
		return jsonResponse(http.StatusOK, decisionsResponse{Decisions: ds}), nil

	case len(seg) == 2 && seg[0] == "decisions" && seg[1] == "export" && req.method == http.MethodGet:
		var buf bytes.Buffer
		if err := h.review.ExportDecisions(ctx, &buf); err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return csvResponse("reviewed_trainer_logs.csv", buf.String()), nil
	}
	return events.APIGatewayProxyResponse{}, notFound()
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func nonNil(recs []domain.FeedbackRecord) []domain.FeedbackRecord {
	if recs == nil {
		return []domain.FeedbackRecord{}
	}
	return recs
}

func decodeBody(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return usecaseError(usecase.ErrorValidation, "empty_body", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return usecaseError(usecase.ErrorValidation, "invalid_body", err)
	}
	return nil
}

func usecaseError(code usecase.ErrorCode, reason string, err error) error {
	return &usecase.Error{Code: code, Reason: reason, Err: err}
}

func notFound() error {
	return usecaseError(usecase.ErrorNotFound, "route_not_found", nil)
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":{"code":"INTERNAL_ERROR","message":"internal error"}}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func csvResponse(filename, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":        "text/csv; charset=utf-8",
			"Content-Disposition": `attachment; filename="` + filename + `"`,
		},
		Body: body,
	}
}
