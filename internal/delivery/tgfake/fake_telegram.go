// Package tgfake serves enough of the Telegram Bot API for tests.
package tgfake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const Token = "123:test"

// Call is one bot method invocation as seen by the server.
type Call struct {
	Method      string
	ChatID      int64
	Text        string
	Photo       string
	Caption     string
	ReplyMarkup string
}

type FakeTelegram struct {
	s *httptest.Server

	mu      sync.Mutex
	calls   []Call
	blocked map[int64]bool
	failing map[int64]int
}

func NewFakeTelegram() *FakeTelegram {
	f := &FakeTelegram{blocked: map[int64]bool{}, failing: map[int64]int{}}

	r := chi.NewRouter()
	r.Post("/bot{token}/{method}", f.handle)
	r.Get("/bot{token}/{method}", f.handle)
	f.s = httptest.NewServer(r)
	return f
}

func (f *FakeTelegram) Close() {
	f.s.Close()
}

// Endpoint is the value for tgbotapi.NewBotAPIWithAPIEndpoint.
func (f *FakeTelegram) Endpoint() string {
	return f.s.URL + "/bot%s/%s"
}

// Bot returns a client talking to this server.
func (f *FakeTelegram) Bot() (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPIWithAPIEndpoint(Token, f.Endpoint())
}

// Block makes every message to chatID fail with 403.
func (f *FakeTelegram) Block(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[chatID] = true
}

// FailNext makes the next n messages to chatID fail with 500.
func (f *FakeTelegram) FailNext(chatID int64, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[chatID] = n
}

// Calls returns the recorded calls of a method, every method when empty.
func (f *FakeTelegram) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeTelegram) handle(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "token") != Token {
		writeResponse(w, http.StatusUnauthorized, false, 401, "Unauthorized", nil)
		return
	}
	_ = r.ParseForm()

	method := chi.URLParam(r, "method")
	chatID, _ := strconv.ParseInt(r.FormValue("chat_id"), 10, 64)
	call := Call{
		Method:      method,
		ChatID:      chatID,
		Text:        r.FormValue("text"),
		Photo:       r.FormValue("photo"),
		Caption:     r.FormValue("caption"),
		ReplyMarkup: r.FormValue("reply_markup"),
	}

	f.mu.Lock()
	blocked := f.blocked[chatID]
	failing := f.failing[chatID] > 0
	if failing {
		f.failing[chatID]--
	}
	if method != "getMe" && method != "getUpdates" {
		f.calls = append(f.calls, call)
	}
	f.mu.Unlock()

	switch {
	case method == "getMe":
		writeResponse(w, http.StatusOK, true, 0, "", map[string]any{
			"id": 1, "is_bot": true, "first_name": "bot", "username": "gymkhana_test_bot",
		})
	case method == "getUpdates":
		writeResponse(w, http.StatusOK, true, 0, "", []any{})
	case blocked:
		writeResponse(w, http.StatusForbidden, false, 403, "Forbidden: bot was blocked by the user", nil)
	case failing:
		writeResponse(w, http.StatusInternalServerError, false, 500, "Internal Server Error", nil)
	default:
		writeResponse(w, http.StatusOK, true, 0, "", map[string]any{
			"message_id": len(f.Calls("")),
			"date":       0,
			"chat":       map[string]any{"id": chatID, "type": "private"},
			"text":       call.Text,
		})
	}
}

func writeResponse(w http.ResponseWriter, status int, ok bool, code int, description string, result any) {
	body := map[string]any{"ok": ok}
	if result != nil {
		body["result"] = result
	}
	if !ok {
		body["error_code"] = code
		body["description"] = description
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
