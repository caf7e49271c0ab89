package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"okrflow/api/internal/access"
	"okrflow/api/internal/report"
	"okrflow/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "objectives":
		s.handleObjectives(w, r, parts[2:])
	case "comments":
		s.handleComments(w, r, parts[2:])
	case "reports":
		s.handleReports(w, r, parts[2:])
	case "notifications":
		s.handleNotifications(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleObjectives(w http.ResponseWriter, r *http.Request, rest []string) {
	actor := actorFromRequest(r)

	// /api/objectives
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			page, _ := strconv.Atoi(query.Get("page"))
			limit, _ := strconv.Atoi(query.Get("limit"))
			items, meta, err := s.service.ListObjectives(r.Context(), ObjectiveListInput{
				Department: query.Get("department"),
				Status:     query.Get("status"),
				Category:   query.Get("category"),
				Query:      query.Get("q"),
				Page:       page,
				Limit:      limit,
			})
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"objectives": objectiveViews(items),
				"pagination": meta,
			})
		case http.MethodPost:
			var body CreateObjectiveInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			obj, err := s.service.CreateObjective(r.Context(), body, actor.ID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, objectiveView(obj))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	objectiveID := rest[0]

	// /api/objectives/{id}
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			obj, err := s.service.GetObjective(r.Context(), objectiveID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, objectiveView(obj))
		case http.MethodPut:
			var patch ObjectivePatch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			obj, err := s.service.UpdateObjective(r.Context(), objectiveID, patch, actor)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, objectiveView(obj))
		case http.MethodDelete:
			if err := s.service.DeleteObjective(r.Context(), objectiveID, actor); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/objectives/{id}/clone
	if len(rest) == 2 && rest[1] == "clone" && r.Method == http.MethodPost {
		var overrides ObjectivePatch
		if err := decodeBody(r, &overrides); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		obj, err := s.service.CloneObjective(r.Context(), objectiveID, overrides, actor.ID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, objectiveView(obj))
		return
	}

	// /api/objectives/{id}/owners
	if len(rest) == 2 && rest[1] == "owners" && r.Method == http.MethodPut {
		var body struct {
			Owners []string `json:"owners"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		obj, err := s.service.SetObjectiveOwners(r.Context(), objectiveID, body.Owners, actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, objectiveView(obj))
		return
	}

	// /api/objectives/{id}/key-results/{krId}/status
	if len(rest) == 4 && rest[1] == "key-results" && rest[3] == "status" && r.Method == http.MethodPut {
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		obj, err := s.service.SetKeyResultStatus(r.Context(), objectiveID, rest[2], body.Status, actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, objectiveView(obj))
		return
	}

	// /api/objectives/{id}/comments
	if len(rest) == 2 && rest[1] == "comments" {
		switch r.Method {
		case http.MethodGet:
			comments, err := s.service.ListComments(r.Context(), objectiveID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": commentViews(comments)})
		case http.MethodPost:
			var body struct {
				Message string `json:"message"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.CreateComment(r.Context(), objectiveID, body.Message, actor)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, commentView(comment))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, rest []string) {
	actor := actorFromRequest(r)

	if len(rest) == 1 {
		commentID := rest[0]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Message string `json:"message"`
				ReplyID string `json:"replyId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.UpdateComment(r.Context(), commentID, body.ReplyID, body.Message)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, commentView(comment))
		case http.MethodDelete:
			replyID := r.URL.Query().Get("replyId")
			comment, err := s.service.DeleteComment(r.Context(), commentID, replyID)
			if err != nil {
				s.fail(w, err)
				return
			}
			if replyID == "" {
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
			writeJSON(w, http.StatusOK, commentView(comment))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/comments/{id}/replies
	if len(rest) == 2 && rest[1] == "replies" && r.Method == http.MethodPost {
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.CreateReply(r.Context(), rest[0], body.Message, actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, commentView(comment))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, rest []string) {
	if r.Method != http.MethodGet || len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	filter := reportFilterFromQuery(r)

	switch rest[0] {
	case "quarterly":
		result, err := s.service.QuarterlyReport(r.Context(), filter)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "yearly":
		result, err := s.service.YearlyReport(r.Context(), filter)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "export":
		format := r.URL.Query().Get("format")
		result, err := s.service.ExportReport(r.Context(), format, filter)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, rest []string) {
	actor := actorFromRequest(r)

	if len(rest) == 0 && r.Method == http.MethodGet {
		items, err := s.service.ListNotifications(r.Context(), actor.ID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notificationViews(items)})
		return
	}

	if len(rest) == 1 && rest[0] == "unread-count" && r.Method == http.MethodGet {
		count, err := s.service.UnreadCount(r.Context(), actor.ID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": count})
		return
	}

	if len(rest) == 2 && rest[1] == "read" && r.Method == http.MethodPut {
		item, err := s.service.MarkNotificationRead(r.Context(), rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, notificationView(item))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

// Actor identity is handed in by the auth layer in front of this service.
func actorFromRequest(r *http.Request) access.Actor {
	return access.Actor{
		ID:    strings.TrimSpace(r.Header.Get("X-Actor-Id")),
		Email: strings.TrimSpace(r.Header.Get("X-Actor-Email")),
		Name:  strings.TrimSpace(r.Header.Get("X-Actor-Name")),
		Role:  strings.TrimSpace(r.Header.Get("X-Actor-Role")),
	}
}

func reportFilterFromQuery(r *http.Request) report.Filter {
	query := r.URL.Query()
	year, _ := strconv.Atoi(query.Get("year"))
	return report.Filter{
		Year:   year,
		Team:   query.Get("team"),
		Status: query.Get("status"),
	}
}

func objectiveView(obj store.Objective) map[string]any {
	keyResults := obj.KeyResults
	if keyResults == nil {
		keyResults = []store.KeyResult{}
	}
	return map[string]any{
		"id":          obj.ID,
		"title":       obj.Title,
		"description": obj.Description,
		"owner":       obj.Owner(),
		"owners":      obj.Owners,
		"createdBy":   obj.CreatedBy,
		"dueDate":     obj.DueDate,
		"category":    obj.Category,
		"department":  obj.Department,
		"status":      DisplayStatus(obj),
		"progress":    obj.Progress,
		"keyResults":  keyResults,
		"createdAt":   obj.CreatedAt,
		"updatedAt":   obj.UpdatedAt,
	}
}

func objectiveViews(items []store.Objective) []map[string]any {
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, objectiveView(item))
	}
	return views
}

func commentView(comment store.Comment) map[string]any {
	mentions := comment.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	replies := comment.Replies
	if replies == nil {
		replies = []store.Reply{}
	}
	return map[string]any{
		"id":          comment.ID,
		"objectiveId": comment.ObjectiveID,
		"authorId":    comment.AuthorID,
		"authorName":  comment.AuthorName,
		"authorEmail": comment.AuthorEmail,
		"message":     comment.Message,
		"mentions":    mentions,
		"replies":     replies,
		"createdAt":   comment.CreatedAt,
		"updatedAt":   comment.UpdatedAt,
	}
}

func commentViews(items []store.Comment) []map[string]any {
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, commentView(item))
	}
	return views
}

func notificationView(item store.Notification) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"recipientId":  item.RecipientID,
		"type":         item.Type,
		"title":        item.Title,
		"message":      item.Message,
		"contextLabel": item.ContextLabel,
		"contextId":    item.ContextID,
		"read":         item.Read,
		"createdAt":    item.CreatedAt,
	}
}

func notificationViews(items []store.Notification) []map[string]any {
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, notificationView(item))
	}
	return views
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Actor-Id, X-Actor-Email, X-Actor-Name, X-Actor-Role")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, access.ErrUnauthorized) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, access.ErrForbidden) {
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	if errors.Is(err, report.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Only csv export is supported", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
