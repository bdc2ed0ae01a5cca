package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/convsession/internal/api"
	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/menu"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/moderation"
)

const maxUpload = 20 << 20

type errorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("bridge writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeAppError maps an error kind onto an HTTP status.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindPermission, apperr.KindSystemMessageImmutable:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindSessionExpired:
		status = http.StatusUnauthorized
	case apperr.KindStaleResponse, apperr.KindMediaUnavailable:
		status = http.StatusConflict
	case apperr.KindNetwork:
		status = http.StatusBadGateway
	}
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Msg != "" {
		msg = ae.Msg
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

type sessionResponse struct {
	ConversationID model.ID            `json:"conversation_id,omitempty"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	Edit           moderation.State    `json:"edit"`
	ConnectionLost bool                `json:"connection_lost"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{
		ConversationID: s.sess.ConversationID(),
		Edit:           s.sess.EditState(),
		ConnectionLost: s.sess.Notifications().ConnectionLost(),
	}
	if c, ok := s.sess.Conversation(); ok {
		resp.Conversation = c
	}
	writeJSON(w, http.StatusOK, resp)
}

type selectRequest struct {
	ConversationID model.ID `json:"conversation_id"`
}

func (s *Server) selectConversation(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.Select(r.Context(), req.ConversationID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.RenderMessages())
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if !s.sess.Refresh() {
		writeError(w, http.StatusTooManyRequests, "refresh throttled")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	rows := s.sess.RenderMessages()
	if rows == nil {
		writeError(w, http.StatusConflict, "no conversation selected")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type contentRequest struct {
	Content string `json:"content"`
}

// sendMessage accepts JSON {content} or multipart with "content" and one of
// "image" or "file".
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var (
		content string
		upload  *api.Upload
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		content = r.FormValue("content")
		for _, field := range []string{"image", "file"} {
			f, header, err := r.FormFile(field)
			if err != nil {
				continue
			}
			defer f.Close()
			kind := model.AttachmentImage
			if field == "file" {
				kind = model.KindFromFileName(header.Filename)
			}
			upload = &api.Upload{Kind: kind, FileName: header.Filename, Data: f}
			break
		}
	} else {
		var req contentRequest
		if !decode(w, r, &req) {
			return
		}
		content = req.Content
	}
	msg, err := s.sess.Send(r.Context(), content, upload)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type menuRequest struct {
	MessageID model.ID `json:"message_id"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
}

type menuResponse struct {
	Open   bool         `json:"open"`
	Target *menu.Target `json:"target,omitempty"`
}

func (s *Server) getMenu(w http.ResponseWriter, r *http.Request) {
	t, ok := s.sess.MenuTarget()
	resp := menuResponse{Open: ok}
	if ok {
		resp.Target = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) openMenu(w http.ResponseWriter, r *http.Request) {
	var req menuRequest
	if !decode(w, r, &req) {
		return
	}
	t, ok, err := s.sess.OnContextMenu(req.MessageID, menu.Position{X: req.X, Y: req.Y})
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := menuResponse{Open: ok}
	if ok {
		resp.Target = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) closeMenu(w http.ResponseWriter, r *http.Request) {
	s.sess.CloseMenu()
	w.WriteHeader(http.StatusNoContent)
}

type actionRequest struct {
	Action menu.Action `json:"action"`
}

func (s *Server) menuAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Action.Valid() {
		s.sess.CloseMenu()
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err := s.sess.Dispatch(r.Context(), req.Action); err != nil {
		writeAppError(w, err)
		return
	}
	resp := map[string]any{"action": req.Action, "edit": s.sess.EditState()}
	if p, ok := s.sess.PendingDelete(); ok {
		resp["pending_delete"] = p
	}
	writeJSON(w, http.StatusOK, resp)
}

type messageRequest struct {
	MessageID model.ID `json:"message_id"`
}

func (s *Server) getEdit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.EditState())
}

func (s *Server) startEdit(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.StartEdit(r.Context(), req.MessageID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.EditState())
}

func (s *Server) setDraft(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.SetDraft(r.Context(), req.Content); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.EditState())
}

func (s *Server) saveEdit(w http.ResponseWriter, r *http.Request) {
	msg, err := s.sess.SaveEdit(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) cancelEdit(w http.ResponseWriter, r *http.Request) {
	s.sess.CancelEdit(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type deleteRequest struct {
	MessageID model.ID         `json:"message_id"`
	Scope     moderation.Scope `json:"scope"`
}

func (s *Server) getPendingDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := s.sess.PendingDelete()
	if !ok {
		writeError(w, http.StatusNotFound, "no delete pending")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) confirmDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.Delete(r.Context(), req.MessageID, req.Scope); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelDelete(w http.ResponseWriter, r *http.Request) {
	s.sess.CancelPendingDelete()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mediaState(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sess.MediaState(model.ID(chi.URLParam(r, "messageId")))
	if !ok {
		writeError(w, http.StatusNotFound, "media not mounted")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type seekRequest struct {
	Percent float64 `json:"percent"`
}

func (s *Server) mediaControl(w http.ResponseWriter, r *http.Request) {
	id := model.ID(chi.URLParam(r, "messageId"))
	var err error
	switch chi.URLParam(r, "op") {
	case "play":
		err = s.sess.Play(id)
	case "pause":
		err = s.sess.Pause(id)
	case "toggle":
		err = s.sess.Toggle(id)
	case "seek":
		var req seekRequest
		if !decode(w, r, &req) {
			return
		}
		err = s.sess.Seek(id, req.Percent)
	default:
		writeError(w, http.StatusNotFound, "unknown media operation")
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	st, _ := s.sess.MediaState(id)
	writeJSON(w, http.StatusOK, st)
}

type viewerResponse struct {
	Open    bool     `json:"open"`
	Message model.ID `json:"message_id,omitempty"`
}

func (s *Server) getViewer(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.sess.ViewerMessage()
	writeJSON(w, http.StatusOK, viewerResponse{Open: ok, Message: msg.ID})
}

func (s *Server) openViewer(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sess.OpenViewer(req.MessageID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewerResponse{Open: true, Message: req.MessageID})
}

func (s *Server) closeViewer(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sess.CloseViewer()
	if !ok {
		writeError(w, http.StatusNotFound, "viewer is not open")
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Notifications().List())
}

func (s *Server) dismissNotification(w http.ResponseWriter, r *http.Request) {
	if !s.sess.Notifications().Dismiss(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "notification not found or not dismissible")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
