package devserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/middleware"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/ws"
)

// BlockedExt lists upload extensions the backend refuses (executables and scripts).
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("devserver writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps store errors onto the statuses the production backend uses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotMember), errors.Is(err, ErrForbidden), errors.Is(err, ErrSystemLocked):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrGroupWithoutCreator), errors.Is(err, model.ErrPrivateParticipantCount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Errorf("devserver: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func routeIDs(r *http.Request) (conv, user model.ID) {
	return model.ID(chi.URLParam(r, "conversationId")), model.ID(middleware.GetUserID(r.Context()))
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	convID, userID := routeIDs(r)
	c, err := s.store.Conversation(convID, userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	convID, userID := routeIDs(r)
	msgs, err := s.store.Messages(convID, userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type contentRequest struct {
	Content string `json:"content"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	convID, userID := routeIDs(r)
	var (
		content string
		att     *model.Attachment
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var status int
		var err error
		content, att, status, err = s.readUpload(w, r)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
	} else {
		var req contentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		content = req.Content
	}
	if strings.TrimSpace(content) == "" && att == nil {
		writeError(w, http.StatusBadRequest, "content or attachment is required")
		return
	}
	msg, err := s.store.AddMessage(convID, userID, content, att)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(convID, s.store.Participants(convID), ws.OutgoingMessage{Type: ws.EventNewMessage, Payload: msg})
	writeJSON(w, http.StatusCreated, msg)
}

// readUpload parses a multipart send: "content" plus one of "image" or "file".
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, *model.Attachment, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(s.opts.MaxUploadSize); err != nil {
		return "", nil, http.StatusBadRequest, errors.New("file too large")
	}
	content := r.FormValue("content")
	field := "image"
	file, header, err := r.FormFile(field)
	if err != nil {
		field = "file"
		file, header, err = r.FormFile(field)
	}
	if err != nil {
		return content, nil, 0, nil
	}
	defer file.Close()

	name := strings.ReplaceAll(header.Filename, "+", " ")
	ext := strings.ToLower(filepath.Ext(name))
	if BlockedExt[ext] {
		return "", nil, http.StatusBadRequest, errors.New("file type not allowed")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, http.StatusBadRequest, errors.New("failed to read file")
	}
	key := uuid.New().String() + ext
	s.store.SaveFile(key, filepath.Base(name), header.Header.Get("Content-Type"), data)

	kind := model.AttachmentImage
	if field == "file" {
		kind = model.KindFromFileName(name)
	}
	return content, &model.Attachment{
		Kind:     kind,
		URL:      mediaURL(r, key),
		FileName: filepath.Base(name),
	}, 0, nil
}

func mediaURL(r *http.Request, key string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/media/" + key
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	convID, userID := routeIDs(r)
	msgID := model.ID(chi.URLParam(r, "messageId"))
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msg, err := s.store.EditMessage(convID, msgID, userID, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(convID, s.store.Participants(convID), ws.OutgoingMessage{
		Type: ws.EventMessageEdited,
		Payload: ws.MessageEditedPayload{
			MessageID:      msg.ID,
			ConversationID: convID,
			Content:        msg.Content,
			EditedAt:       time.Now().UTC(),
		},
	})
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) deleteForMe(w http.ResponseWriter, r *http.Request) {
	convID, userID := routeIDs(r)
	msgID := model.ID(chi.URLParam(r, "messageId"))
	if err := s.store.DeleteForMe(convID, msgID, userID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteForEveryone(w http.ResponseWriter, r *http.Request) {
	convID, userID := routeIDs(r)
	msgID := model.ID(chi.URLParam(r, "messageId"))
	if err := s.store.DeleteForEveryone(convID, msgID, userID); err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(convID, s.store.Participants(convID), ws.OutgoingMessage{
		Type:    ws.EventMessageDeleted,
		Payload: ws.MessageDeletedPayload{MessageID: msgID, ConversationID: convID},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) blockUser(w http.ResponseWriter, r *http.Request) {
	userID := model.ID(middleware.GetUserID(r.Context()))
	target := model.ID(chi.URLParam(r, "userId"))
	if target == userID {
		writeError(w, http.StatusBadRequest, "cannot block yourself")
		return
	}
	if err := s.store.Block(userID, target); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked"})
}

func (s *Server) serveMedia(w http.ResponseWriter, r *http.Request) {
	f, ok := s.store.File(chi.URLParam(r, "key"))
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if f.contentType != "" {
		w.Header().Set("Content-Type", f.contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, f.name, time.Time{}, bytes.NewReader(f.data))
}
