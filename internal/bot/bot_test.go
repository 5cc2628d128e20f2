package bot

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

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
	"github.com/m2rcus/hypemonitoring/internal/stats"
	"github.com/m2rcus/hypemonitoring/internal/window"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type engineSource struct {
	eng *engine.Engine
}

func (s engineSource) Status(now time.Time) engine.Report { return s.eng.Inspect(now) }

func (s engineSource) Asset() string { return "HYPE" }

type fakeVoice struct {
	chats []int64
	err   error
}

func (f *fakeVoice) SendTestVoice(_ context.Context, chatID int64) error {
	f.chats = append(f.chats, chatID)
	return f.err
}

func newSource(t *testing.T, prices ...float64) engineSource {
	t.Helper()
	eng, err := engine.New(engine.Config{
		Thresholds: classify.Thresholds{
			TargetPrice:        41.0,
			StandardDeviations: 2.0,
			AlertProbability:   0.7,
			CriticalPrice:      40.0,
			StrongDowntrend:    0.85,
		},
		RegularCooldown:  5 * time.Minute,
		CriticalCooldown: time.Minute,
		Window:           window.Bound{MaxSamples: 100},
		Trend:            stats.DefaultTrendOptions(),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	for i, p := range prices {
		if _, err := eng.Evaluate(p, t0.Add(time.Duration(i-len(prices))*time.Minute)); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	return engineSource{eng: eng}
}

func newBot(src StatusSource, voice VoiceTester) *Bot {
	return New(nil, src, voice, Options{Now: func() time.Time { return t0 }}, zerolog.Nop())
}

func TestRespondStatusDoesNotMutate(t *testing.T) {
	src := newSource(t, 43, 43, 42, 41.5, 41.2)
	before := src.Status(t0)
	b := newBot(src, nil)

	out := b.Respond(context.Background(), 1, "status")
	if !strings.Contains(out, "HYPE Price Status") || !strings.Contains(out, "$41.20") {
		t.Fatalf("unexpected status reply: %s", out)
	}
	if after := src.Status(t0); after.Samples != before.Samples {
		t.Fatalf("status must not record samples: %d -> %d", before.Samples, after.Samples)
	}
}

func TestRespondSettingsShowsRemainingCooldown(t *testing.T) {
	// The third price fires REGULAR at t0-1m.
	src := newSource(t, 43, 43, 42)
	b := newBot(src, nil)

	out := b.Respond(context.Background(), 1, "settings")
	for _, want := range []string{"$41.00", "$40.00", "70%", "85%", "Regular: 5m0s (4m0s remaining)", "Critical: 1m0s (ready)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("settings reply missing %q:\n%s", want, out)
		}
	}
}

func TestRespondSimpleCommands(t *testing.T) {
	b := newBot(newSource(t), nil)
	ctx := context.Background()

	if got := b.Respond(ctx, 1, "ping"); got != "Pong" {
		t.Fatalf("ping: %q", got)
	}
	help := b.Respond(ctx, 1, "help")
	if !strings.Contains(help, "/status") || help != b.Respond(ctx, 1, "start") {
		t.Fatalf("help and start should match and list commands: %s", help)
	}
	if got := b.Respond(ctx, 1, "unknown"); got != "" {
		t.Fatalf("unknown command should be ignored, got %q", got)
	}
	if got := b.Respond(ctx, 1, "testvoice"); !strings.Contains(got, "disabled") {
		t.Fatalf("testvoice without voice: %q", got)
	}
}

func TestRespondTestVoice(t *testing.T) {
	voice := &fakeVoice{}
	b := newBot(newSource(t), voice)

	if got := b.Respond(context.Background(), 77, "testvoice"); !strings.Contains(got, "sent") {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(voice.chats) != 1 || voice.chats[0] != 77 {
		t.Fatalf("voice should go to the requesting chat, got %v", voice.chats)
	}

	voice.err = errors.New("tts <down>")
	got := b.Respond(context.Background(), 77, "testvoice")
	if !strings.Contains(got, "tts &lt;down&gt;") {
		t.Fatalf("error should be escaped, got %q", got)
	}
}

func TestHandleRepliesInHTML(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
		modes []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		var result any = map[string]any{"message_id": 1, "date": 0, "chat": map[string]any{"id": 9, "type": "private"}}
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			result = map[string]any{"id": 1, "is_bot": true, "first_name": "hype", "username": "hypebot"}
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			texts = append(texts, r.PostForm.Get("text"))
			modes = append(modes, r.PostForm.Get("parse_mode"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	}))
	defer srv.Close()

	api, err := tgbotapi.NewBotAPIWithClient("123:abc", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("bot api: %v", err)
	}
	b := New(api, newSource(t), nil, Options{Now: func() time.Time { return t0 }}, zerolog.Nop())

	b.handle(context.Background(), &tgbotapi.Message{
		Text:     "/ping",
		Chat:     &tgbotapi.Chat{ID: 9},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	})
	b.handle(context.Background(), &tgbotapi.Message{
		Text:     "/nope",
		Chat:     &tgbotapi.Chat{ID: 9},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	})

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || texts[0] != "Pong" || modes[0] != tgbotapi.ModeHTML {
		t.Fatalf("unexpected replies %v %v", texts, modes)
	}
}

func TestDefaultClockIsUTC(t *testing.T) {
	b := New(nil, newSource(t), nil, Options{}, zerolog.Nop())
	if loc := b.opts.Now().Location(); loc != time.UTC {
		t.Fatalf("default clock should be UTC, got %v", loc)
	}

	b = New(nil, newSource(t), nil, Options{Now: func() time.Time { return t0 }}, zerolog.Nop())
	if !b.opts.Now().Equal(t0) {
		t.Fatal("configured clock ignored")
	}
}
