package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// maxTTSChunk is the longest text the translate endpoint accepts per request.
const maxTTSChunk = 200

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// GoogleTTSOptions parameterise the Google Translate speech endpoint.
type GoogleTTSOptions struct {
	BaseURL   string
	Language  string
	Timeout   time.Duration
	UserAgent string
}

// GoogleTTS synthesises speech through translate_tts, one request per chunk.
type GoogleTTS struct {
	opts    GoogleTTSOptions
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewGoogleTTS constructs the synthesizer.
func NewGoogleTTS(opts GoogleTTSOptions, logger zerolog.Logger) *GoogleTTS {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://translate.google.com"
	}
	return &GoogleTTS{
		opts:    opts,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "tts").Logger(),
	}
}

// Synthesize fetches every chunk and concatenates the MP3 frames.
func (g *GoogleTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	chunks := splitText(text, maxTTSChunk)
	if len(chunks) == 0 {
		return nil, errors.New("nothing to synthesize")
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		if err := g.fetchChunk(ctx, &audio, chunk, i, len(chunks)); err != nil {
			return nil, fmt.Errorf("synthesize chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	g.logger.Debug().Int("chunks", len(chunks)).Int("bytes", audio.Len()).Msg("speech synthesized")
	return audio.Bytes(), nil
}

func (g *GoogleTTS) fetchChunk(ctx context.Context, dst io.Writer, chunk string, idx, total int) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", g.opts.Language)
	q.Set("q", chunk)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/translate_tts?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts endpoint returned %d", resp.StatusCode)
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("tts endpoint returned no audio")
	}
	return nil
}

// splitText packs whitespace-separated words into chunks of at most limit
// runes. A word longer than limit is cut.
func splitText(text string, limit int) []string {
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > limit {
			flush()
			runes := []rune(word)
			chunks = append(chunks, string(runes[:limit]))
			word = string(runes[limit:])
		}

		wl := utf8.RuneCountInString(word)
		if curLen > 0 && curLen+1+wl > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += wl
	}
	flush()
	return chunks
}

var _ Synthesizer = (*GoogleTTS)(nil)
