// Package api is the REST client for the messaging backend. Every call carries the
// bearer token and maps transport and status failures onto apperr kinds.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/model"
)

const maxErrorBody = 4 << 10

type Options struct {
	BaseURL string
	// Prefix is prepended to every conversation path, e.g. "/msg".
	Prefix     string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	prefix     string
	token      string
	httpClient *http.Client
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	prefix := strings.TrimSuffix(opts.Prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		prefix:     prefix,
		token:      opts.Token,
		httpClient: hc,
	}
}

func (c *Client) conversationPath(conversationID model.ID, rest ...string) string {
	p := c.prefix + "/conversations/" + url.PathEscape(string(conversationID))
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token == "" {
		return apperr.New(apperr.KindSessionExpired, op, "no auth token")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// superseded by a newer request; the caller drops the result
			return apperr.Wrap(apperr.KindStaleResponse, op, err)
		}
		return apperr.Wrap(apperr.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindNetwork, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorMessage(raw)
	if msg == "" {
		msg = resp.Status
	}
	var kind apperr.Kind
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = apperr.KindSessionExpired
	case resp.StatusCode == http.StatusForbidden:
		kind = apperr.KindPermission
	case resp.StatusCode == http.StatusNotFound:
		kind = apperr.KindNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		kind = apperr.KindValidation
	default:
		kind = apperr.KindNetwork
	}
	return &apperr.Error{Kind: kind, Op: op, Msg: msg, Err: fmt.Errorf("status %d", resp.StatusCode)}
}

// errorMessage pulls a readable message out of {"error": ...} or {"detail": ...}.
func errorMessage(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		return body.Detail
	}
	return ""
}

// GetMessages fetches the full message list of a conversation in server order.
// Both a bare array and a paginated {"results": [...]} body are accepted.
func (c *Client) GetMessages(ctx context.Context, conversationID model.ID) ([]model.Message, error) {
	defer logger.DeferLogDuration("api.GetMessages", time.Now())()
	var raw json.RawMessage
	if err := c.do(ctx, "api.GetMessages", http.MethodGet, c.conversationPath(conversationID, "messages"), nil, "", &raw); err != nil {
		return nil, err
	}
	msgs, err := decodeMessageList(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "api.GetMessages", err)
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = conversationID
		}
	}
	return msgs, nil
}

func decodeMessageList(raw json.RawMessage) ([]model.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var page struct {
			Results []model.Message `json:"results"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode messages page: %w", err)
		}
		return page.Results, nil
	}
	var list []model.Message
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return list, nil
}

func (c *Client) GetConversation(ctx context.Context, conversationID model.ID) (*model.Conversation, error) {
	defer logger.DeferLogDuration("api.GetConversation", time.Now())()
	var conv model.Conversation
	if err := c.do(ctx, "api.GetConversation", http.MethodGet, c.conversationPath(conversationID), nil, "", &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Upload is one attachment to send. Images go in the "image" form field and
// everything else, recorded audio included, in "file".
type Upload struct {
	Kind     model.AttachmentKind
	FileName string
	Data     io.Reader
}

type Outgoing struct {
	Content    string
	Attachment *Upload
}

func (o Outgoing) validate() error {
	if strings.TrimSpace(o.Content) == "" && o.Attachment == nil {
		return apperr.New(apperr.KindValidation, "api.SendMessage", "message is empty")
	}
	if o.Attachment != nil && (o.Attachment.Data == nil || o.Attachment.FileName == "") {
		return apperr.New(apperr.KindValidation, "api.SendMessage", "attachment needs a file name and data")
	}
	return nil
}

// SendMessage posts JSON for text-only messages and multipart when there is an attachment.
func (c *Client) SendMessage(ctx context.Context, conversationID model.ID, out Outgoing) (model.Message, error) {
	defer logger.DeferLogDuration("api.SendMessage", time.Now())()
	if err := out.validate(); err != nil {
		return model.Message{}, err
	}
	var (
		body        io.Reader
		contentType string
	)
	if out.Attachment == nil {
		b, err := json.Marshal(map[string]string{"content": out.Content})
		if err != nil {
			return model.Message{}, apperr.Wrap(apperr.KindValidation, "api.SendMessage", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	} else {
		buf := &bytes.Buffer{}
		ct, err := writeMultipart(buf, out)
		if err != nil {
			return model.Message{}, apperr.Wrap(apperr.KindMediaUnavailable, "api.SendMessage", err)
		}
		body, contentType = buf, ct
	}
	var msg model.Message
	if err := c.do(ctx, "api.SendMessage", http.MethodPost, c.conversationPath(conversationID, "messages"), body, contentType, &msg); err != nil {
		return model.Message{}, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return msg, nil
}

func writeMultipart(buf *bytes.Buffer, out Outgoing) (string, error) {
	mw := multipart.NewWriter(buf)
	if out.Content != "" {
		if err := mw.WriteField("content", out.Content); err != nil {
			return "", err
		}
	}
	field := "file"
	if out.Attachment.Kind == model.AttachmentImage {
		field = "image"
	}
	fw, err := mw.CreateFormFile(field, out.Attachment.FileName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, out.Attachment.Data); err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}

// EditMessage sends content only; attachments are never part of an edit.
func (c *Client) EditMessage(ctx context.Context, conversationID, messageID model.ID, content string) (model.Message, error) {
	defer logger.DeferLogDuration("api.EditMessage", time.Now())()
	b, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return model.Message{}, apperr.Wrap(apperr.KindValidation, "api.EditMessage", err)
	}
	var msg model.Message
	path := c.conversationPath(conversationID, "messages", url.PathEscape(string(messageID)))
	if err := c.do(ctx, "api.EditMessage", http.MethodPatch, path, bytes.NewReader(b), "application/json", &msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (c *Client) DeleteForMe(ctx context.Context, conversationID, messageID model.ID) error {
	defer logger.DeferLogDuration("api.DeleteForMe", time.Now())()
	path := c.conversationPath(conversationID, "messages", url.PathEscape(string(messageID)), "delete-for-me")
	return c.do(ctx, "api.DeleteForMe", http.MethodPost, path, nil, "", nil)
}

func (c *Client) DeleteForEveryone(ctx context.Context, conversationID, messageID model.ID) error {
	defer logger.DeferLogDuration("api.DeleteForEveryone", time.Now())()
	path := c.conversationPath(conversationID, "messages", url.PathEscape(string(messageID)), "delete-for-everyone")
	return c.do(ctx, "api.DeleteForEveryone", http.MethodPost, path, nil, "", nil)
}

// BlockUser blocks the sender of a message for the current user.
func (c *Client) BlockUser(ctx context.Context, userID model.ID) error {
	defer logger.DeferLogDuration("api.BlockUser", time.Now())()
	path := "/api/users/" + url.PathEscape(string(userID)) + "/block/"
	return c.do(ctx, "api.BlockUser", http.MethodPost, path, nil, "", nil)
}
