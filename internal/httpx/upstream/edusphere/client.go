package edusphere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
)

const (
	defaultBaseURL = "https://api.edusphere.app"
	defaultTimeout = 30 * time.Second
)

// Client is an EduSphere chat API client. It owns the HTTP surface of the
// messaging backend and normalizes every response into entity types before
// anything downstream sees it.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAuthToken sets the bearer token attached to every request
func WithAuthToken(token string) ClientOption {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a new EduSphere chat API client
func New(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error response from the EduSphere backend
type APIError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("edusphere API error: %s (status: %d)", e.Message, e.StatusCode)
}

// GetConversations returns the existing conversations for selfID, optionally
// narrowed to the single conversation with otherID.
// GET /chats/{selfId}?role={role}&otherId={otherId}
func (c *Client) GetConversations(ctx context.Context, selfID string, role entity.Role, otherID string) ([]entity.Conversation, error) {
	endpoint := fmt.Sprintf("%s/chats/%s", c.baseURL, url.PathEscape(selfID))

	params := url.Values{}
	params.Set("role", role.WireName())
	if otherID != "" {
		params.Set("otherId", otherID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	wires, err := decodeConversationList(body)
	if err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}

	conversations := make([]entity.Conversation, 0, len(wires))
	for _, w := range wires {
		conversations = append(conversations, w.entity())
	}
	return conversations, nil
}

// CreateConversation creates the conversation between a student and a tutor.
// POST /chat/create
func (c *Client) CreateConversation(ctx context.Context, studentID, tutorID string, role entity.Role) (*entity.Conversation, error) {
	payload := map[string]any{
		"newChatDetails": map[string]string{
			"user_id":  studentID,
			"tutor_id": tutorID,
		},
		"role": role.WireName(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/create", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	wire, err := decodeConversation(respBody)
	if err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}

	conv := wire.entity()
	return &conv, nil
}

// GetMessages returns the full message history of a conversation in
// creation order. GET /messages/{chatId}
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]entity.Message, error) {
	endpoint := fmt.Sprintf("%s/messages/%s", c.baseURL, url.PathEscape(chatID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	wires, err := decodeMessageList(body)
	if err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}

	messages := make([]entity.Message, 0, len(wires))
	for _, w := range wires {
		messages = append(messages, w.entity())
	}
	return messages, nil
}

// SendMessageInput represents input for persisting a message
type SendMessageInput struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	Text       string
	ReplyToID  string
	FileURL    string

	// File, when non-nil, is uploaded as a multipart part instead of
	// referencing an already-hosted FileURL.
	File         io.Reader
	FileName     string
	FileMimeType string
}

// SendMessage persists a message and returns the authoritative copy with the
// server-assigned id and timestamp. POST /message
func (c *Client) SendMessage(ctx context.Context, in SendMessageInput) (*entity.Message, error) {
	var req *http.Request
	var err error

	if in.File != nil {
		req, err = c.newMultipartMessageRequest(ctx, in)
	} else {
		req, err = c.newJSONMessageRequest(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	wire, err := decodeMessage(body)
	if err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	msg := wire.entity()
	return &msg, nil
}

func (c *Client) newJSONMessageRequest(ctx context.Context, in SendMessageInput) (*http.Request, error) {
	payload := map[string]any{
		"chat_id":     in.ChatID,
		"sender_id":   in.SenderID,
		"receiver_id": in.ReceiverID,
		"message":     in.Text,
	}
	if in.ReplyToID != "" {
		payload["replyTo"] = in.ReplyToID
	}
	if in.FileURL != "" {
		payload["file_url"] = in.FileURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) newMultipartMessageRequest(ctx context.Context, in SendMessageInput) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"chat_id":     in.ChatID,
		"sender_id":   in.SenderID,
		"receiver_id": in.ReceiverID,
		"message":     in.Text,
	}
	if in.ReplyToID != "" {
		fields["replyTo"] = in.ReplyToID
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("writing form field: %w", err)
		}
	}

	part, err := w.CreateFormFile("file", in.FileName)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, in.File); err != nil {
		return nil, fmt.Errorf("copying file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// DeleteMessage removes a message. DELETE /messages/{chatId}/{messageId}
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	endpoint := fmt.Sprintf("%s/messages/%s/%s", c.baseURL, url.PathEscape(chatID), url.PathEscape(messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if result.Status != "success" {
		return fmt.Errorf("deleting message: unexpected status %q", result.Status)
	}
	return nil
}

// MarkRead notifies the backend that a message was displayed locally.
// Fire-and-forget bookkeeping; unread counts are owned by the backend.
// POST /message/read
func (c *Client) MarkRead(ctx context.Context, messageID, chatID string) error {
	payload := map[string]string{
		"message_id": messageID,
		"chat_id":    chatID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message/read", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)
	return err
}

// do executes an HTTP request and returns the raw response body
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return nil, apiErr
	}

	return body, nil
}
