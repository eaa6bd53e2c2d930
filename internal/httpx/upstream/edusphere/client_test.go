package edusphere

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(WithBaseURL(server.URL), WithAuthToken("test-token"))
}

func TestGetConversationsEnvelopes(t *testing.T) {
	conv := `{"_id":"c1","user_id":"s1","tutor_id":"t1"}`

	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[` + conv + `]`},
		{"data wrapper", `{"data":[` + conv + `]}`},
		{"users wrapper", `{"users":[` + conv + `]}`},
		{"chats wrapper", `{"chats":[` + conv + `]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chats/s1" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("role"); got != "user" {
					t.Errorf("role = %q, want user", got)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
					t.Errorf("auth header = %q", got)
				}
				io.WriteString(w, tt.body)
			})

			convs, err := client.GetConversations(context.Background(), "s1", entity.RoleStudent, "")
			if err != nil {
				t.Fatalf("GetConversations: %v", err)
			}
			if len(convs) != 1 {
				t.Fatalf("got %d conversations, want 1", len(convs))
			}
			if convs[0].ID != "c1" || convs[0].StudentID != "s1" || convs[0].TutorID != "t1" {
				t.Errorf("conversation = %+v", convs[0])
			}
		})
	}
}

func TestGetConversationsOtherIDForwarded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("otherId"); got != "t1" {
			t.Errorf("otherId = %q, want t1", got)
		}
		io.WriteString(w, `[]`)
	})

	if _, err := client.GetConversations(context.Background(), "s1", entity.RoleStudent, "t1"); err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
}

func TestGetConversationsLatestMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"_id":"c1","user_id":"s1","tutor_id":"t1",
			"latest_message":{"_id":"m9","chat_id":"c1","sender_id":"t1","message":"hi"}}]`)
	})

	convs, err := client.GetConversations(context.Background(), "s1", entity.RoleStudent, "")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.ID != "m9" || convs[0].LastMessage.Text != "hi" {
		t.Errorf("last message = %+v", convs[0].LastMessage)
	}
}

func TestCreateConversation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/create" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var payload struct {
			NewChatDetails struct {
				UserID  string `json:"user_id"`
				TutorID string `json:"tutor_id"`
			} `json:"newChatDetails"`
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if payload.NewChatDetails.UserID != "s1" || payload.NewChatDetails.TutorID != "t1" {
			t.Errorf("details = %+v", payload.NewChatDetails)
		}
		if payload.Role != "tutor" {
			t.Errorf("role = %q, want tutor", payload.Role)
		}
		io.WriteString(w, `{"chat":{"_id":"c1","user_id":"s1","tutor_id":"t1"}}`)
	})

	conv, err := client.CreateConversation(context.Background(), "s1", "t1", entity.RoleTutor)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID != "c1" {
		t.Errorf("id = %q, want c1", conv.ID)
	}
}

func TestGetMessages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/c1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"messages":[
			{"_id":"m1","chat_id":"c1","sender_id":"s1","receiver_id":"t1","message":"first","replyTo":"m0"},
			{"_id":"m2","chat_id":"c1","sender_id":"t1","receiver_id":"s1","message":"second","is_deleted":true}
		]}`)
	})

	msgs, err := client.GetMessages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[0].Text != "first" || msgs[0].ReplyToID != "m0" {
		t.Errorf("first = %+v", msgs[0])
	}
	if !msgs[1].IsDeleted {
		t.Error("deletion flag lost in decoding")
	}
}

func TestSendMessageJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if payload["chat_id"] != "c1" || payload["message"] != "hello" {
			t.Errorf("payload = %v", payload)
		}
		if _, ok := payload["replyTo"]; ok {
			t.Error("replyTo present without a reply")
		}
		io.WriteString(w, `{"message":{"_id":"m1","chat_id":"c1","sender_id":"s1","receiver_id":"t1","message":"hello"}}`)
	})

	msg, err := client.SendMessage(context.Background(), SendMessageInput{
		ChatID:     "c1",
		SenderID:   "s1",
		ReceiverID: "t1",
		Text:       "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "m1" || msg.ConversationID != "c1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestSendMessageMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "c1" {
			t.Errorf("chat_id = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "notes.pdf" {
			t.Errorf("filename = %q", header.Filename)
		}
		content, _ := io.ReadAll(file)
		if string(content) != "pdf-bytes" {
			t.Errorf("file content = %q", content)
		}
		io.WriteString(w, `{"_id":"m1","chat_id":"c1","sender_id":"s1","receiver_id":"t1","file_url":"https://cdn/notes.pdf"}`)
	})

	msg, err := client.SendMessage(context.Background(), SendMessageInput{
		ChatID:     "c1",
		SenderID:   "s1",
		ReceiverID: "t1",
		File:       strings.NewReader("pdf-bytes"),
		FileName:   "notes.pdf",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.FileURL != "https://cdn/notes.pdf" {
		t.Errorf("file url = %q", msg.FileURL)
	}
}

func TestDeleteMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/messages/c1/m1" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"status":"success"}`)
	})

	if err := client.DeleteMessage(context.Background(), "c1", "m1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
}

func TestDeleteMessageUnexpectedStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"pending"}`)
	})

	if err := client.DeleteMessage(context.Background(), "c1", "m1"); err == nil {
		t.Fatal("expected error on non-success status")
	}
}

func TestMarkRead(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/message/read" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if payload["message_id"] != "m1" || payload["chat_id"] != "c1" {
			t.Errorf("payload = %v", payload)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.MarkRead(context.Background(), "m1", "c1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"not your chat"}`)
	})

	_, err := client.GetMessages(context.Background(), "c1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "not your chat" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestAPIErrorNonJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream exploded")
	})

	_, err := client.GetMessages(context.Background(), "c1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %T, want *APIError", err)
	}
	if apiErr.Message != "upstream exploded" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestUnwrapListUnknownWrapperIsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"something":"else"}`)
	})

	convs, err := client.GetConversations(context.Background(), "s1", entity.RoleStudent, "")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(convs) != 0 {
		t.Errorf("got %d conversations, want none", len(convs))
	}
}
