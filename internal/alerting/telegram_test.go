package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/stats"
)

type fakeTelegram struct {
	mu        sync.Mutex
	texts     []string
	modes     []string
	chats     []string
	voices    int
	failTexts int
	textCalls int
}

func (f *fakeTelegram) serve(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			writeOK(w, map[string]any{"id": 1, "is_bot": true, "first_name": "hype", "username": "hypebot"})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			f.textCalls++
			if f.textCalls <= f.failTexts {
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 500, "description": "boom"})
				return
			}
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			f.texts = append(f.texts, r.PostForm.Get("text"))
			f.modes = append(f.modes, r.PostForm.Get("parse_mode"))
			f.chats = append(f.chats, r.PostForm.Get("chat_id"))
			writeOK(w, sentMessage())
		case strings.HasSuffix(r.URL.Path, "/sendVoice"):
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if _, _, err := r.FormFile("voice"); err != nil {
				t.Errorf("voice file missing: %v", err)
			}
			f.voices++
			writeOK(w, sentMessage())
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func writeOK(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func sentMessage() map[string]any {
	return map[string]any{"message_id": 1, "date": 0, "chat": map[string]any{"id": 42, "type": "private"}}
}

type stubTTS struct {
	err   error
	texts []string
}

func (s *stubTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return []byte("ID3-fake-mp3"), nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func criticalNote() Notification {
	return Notification{
		ID:            "d-1",
		Asset:         "HYPE",
		Tier:          classify.TierCritical,
		Reason:        classify.ReasonBelowTarget,
		Price:         decimal.RequireFromString("41.2"),
		TargetPrice:   decimal.NewFromInt(41),
		CriticalPrice: decimal.RequireFromString("41.5"),
		Probability:   decimal.RequireFromString("0.0862"),
		Trend:         stats.TrendDown,
		TrendStrength: decimal.RequireFromString("0.57"),
		DecidedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newNotifier(t *testing.T, srvURL string, tts Synthesizer, opts TelegramOptions) *TelegramNotifier {
	t.Helper()
	opts.BotToken = "token"
	opts.ChatID = "42"
	opts.APIBase = srvURL
	opts.Asset = "HYPE"
	opts.Timeout = time.Second
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	n, err := NewTelegramNotifier(opts, tts, testLogger())
	if err != nil {
		t.Fatalf("NewTelegramNotifier: %v", err)
	}
	return n
}

func TestTelegramNotifierSendsVoiceAndText(t *testing.T) {
	fake := &fakeTelegram{}
	srv := fake.serve(t)
	defer srv.Close()

	tts := &stubTTS{}
	n := newNotifier(t, srv.URL, tts, TelegramOptions{Text: true, Voice: true})

	if err := n.Notify(context.Background(), criticalNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if fake.voices != 1 || len(fake.texts) != 1 {
		t.Fatalf("expected one voice and one text, got %d and %d", fake.voices, len(fake.texts))
	}
	if fake.modes[0] != "HTML" || fake.chats[0] != "42" {
		t.Fatalf("unexpected parse mode %q or chat %q", fake.modes[0], fake.chats[0])
	}
	if !strings.Contains(fake.texts[0], "CRITICAL ALERT") || !strings.Contains(fake.texts[0], "$41.20") {
		t.Fatalf("unexpected text %q", fake.texts[0])
	}
	if len(tts.texts) != 1 || !strings.HasPrefix(tts.texts[0], "Critical alert!") {
		t.Fatalf("unexpected voice script %q", tts.texts)
	}
}

func TestTelegramNotifierTextOnly(t *testing.T) {
	fake := &fakeTelegram{}
	srv := fake.serve(t)
	defer srv.Close()

	n := newNotifier(t, srv.URL, &stubTTS{}, TelegramOptions{Text: true, Voice: false})
	if err := n.Notify(context.Background(), criticalNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if fake.voices != 0 || len(fake.texts) != 1 {
		t.Fatalf("voice disabled: got %d voices, %d texts", fake.voices, len(fake.texts))
	}
}

func TestTelegramNotifierRetries(t *testing.T) {
	fake := &fakeTelegram{failTexts: 2}
	srv := fake.serve(t)
	defer srv.Close()

	n := newNotifier(t, srv.URL, nil, TelegramOptions{Text: true, MaxRetries: 3})
	if err := n.Notify(context.Background(), criticalNote()); err != nil {
		t.Fatalf("third attempt should succeed: %v", err)
	}
	if fake.textCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.textCalls)
	}
}

func TestTelegramNotifierGivesUp(t *testing.T) {
	fake := &fakeTelegram{failTexts: 10}
	srv := fake.serve(t)
	defer srv.Close()

	n := newNotifier(t, srv.URL, nil, TelegramOptions{Text: true, MaxRetries: 2})
	if err := n.Notify(context.Background(), criticalNote()); err == nil {
		t.Fatal("persistent failure should be returned")
	}
	if fake.textCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", fake.textCalls)
	}
}

func TestTelegramNotifierVoiceFailureStillSendsText(t *testing.T) {
	fake := &fakeTelegram{}
	srv := fake.serve(t)
	defer srv.Close()

	n := newNotifier(t, srv.URL, &stubTTS{err: errors.New("tts down")}, TelegramOptions{Text: true, Voice: true})
	if err := n.Notify(context.Background(), criticalNote()); err == nil {
		t.Fatal("voice failure should be reported")
	}
	if len(fake.texts) != 1 {
		t.Fatalf("text alert should still be delivered, got %d", len(fake.texts))
	}
}

func TestTelegramNotifierFailureReports(t *testing.T) {
	fake := &fakeTelegram{}
	srv := fake.serve(t)
	defer srv.Close()

	n := newNotifier(t, srv.URL, nil, TelegramOptions{Text: true})
	if err := n.SendError(context.Background(), errors.New("fetch <price> failed")); err != nil {
		t.Fatalf("SendError: %v", err)
	}
	if err := n.SendRecovery(context.Background(), 3); err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}
	if !strings.Contains(fake.texts[0], "fetch &lt;price&gt; failed") {
		t.Fatalf("error text must be escaped: %q", fake.texts[0])
	}
	if !strings.Contains(fake.texts[1], "3 consecutive") {
		t.Fatalf("unexpected recovery text %q", fake.texts[1])
	}
}

func TestSendTestVoice(t *testing.T) {
	fake := &fakeTelegram{}
	srv := fake.serve(t)
	defer srv.Close()

	n := newNotifier(t, srv.URL, nil, TelegramOptions{})
	if err := n.SendTestVoice(context.Background(), 7); err == nil {
		t.Fatal("test voice without a synthesizer should fail")
	}

	tts := &stubTTS{}
	n = newNotifier(t, srv.URL, tts, TelegramOptions{Voice: true})
	if err := n.SendTestVoice(context.Background(), 7); err != nil {
		t.Fatalf("SendTestVoice: %v", err)
	}
	if fake.voices != 1 || tts.texts[0] != testPhrase {
		t.Fatalf("unexpected test voice delivery: %d %q", fake.voices, tts.texts)
	}
}

func TestNewTelegramNotifierInvalidChatID(t *testing.T) {
	if _, err := NewTelegramNotifier(TelegramOptions{BotToken: "token", ChatID: "not-a-number"}, nil, testLogger()); err == nil {
		t.Fatal("non-numeric chat id should fail")
	}
}
