package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"audio-converter/internal/platform/logger"
	"audio-converter/internal/platform/metrics"
)

// syncBuffer is a log sink safe for handlers running on server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type resolveResult struct {
	media *ResolvedMedia
	err   error
}

// fakeResolver returns results in order; the last one repeats.
type fakeResolver struct {
	mu         sync.Mutex
	results    []resolveResult
	identities []RequestIdentity
}

func (r *fakeResolver) Resolve(_ context.Context, _ string, id RequestIdentity) (*ResolvedMedia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := len(r.identities)
	r.identities = append(r.identities, id)
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	return r.results[i].media, r.results[i].err
}

func (r *fakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.identities)
}

// failingReader yields data, then err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

type fakeTranscoder struct {
	mu        sync.Mutex
	available bool
	output    string
	outErr    error // returned by Read once output is drained
	startErr  error // returned by Transcode itself
	calls     int
	input     string
	format    string
	bitrate   int
}

func (f *fakeTranscoder) Available() bool { return f.available }

func (f *fakeTranscoder) Transcode(_ context.Context, in io.Reader, format string, bitrateKbps int) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.format = format
	f.bitrate = bitrateKbps
	if f.startErr != nil {
		return nil, f.startErr
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	f.input = string(b)

	outErr := f.outErr
	if outErr == nil {
		outErr = io.EOF
	}
	return io.NopCloser(&failingReader{data: []byte(f.output), err: outErr}), nil
}

func (f *fakeTranscoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// streamingTranscoder copies its input to its output as it arrives. A source
// read error fails the output instead of ending it.
type streamingTranscoder struct{}

func (streamingTranscoder) Available() bool { return true }

func (streamingTranscoder) Transcode(_ context.Context, in io.Reader, _ string, _ int) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		_, err := io.Copy(pw, in)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// brokenThenOK fails its first open after yielding data, then serves ok.
func brokenThenOK(data string, err error, ok string) SourceFunc {
	var mu sync.Mutex
	opened := 0
	return func(context.Context) (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		opened++
		if opened == 1 {
			return io.NopCloser(&failingReader{data: []byte(data), err: err}), nil
		}
		return io.NopCloser(strings.NewReader(ok)), nil
	}
}

func brokenSourceMedia(data string, err error) *ResolvedMedia {
	media := testMedia(200)
	media.Streams = []StreamDescriptor{{
		Bitrate:   128000,
		Container: "mp4",
		MimeType:  `audio/mp4; codecs="mp4a.40.2"`,
		HasAudio:  true,
		Source:    brokenThenOK(data, err, bestAudio),
	}}
	return media
}

func sourceOf(payload string) SourceFunc {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(payload)), nil
	}
}

const bestAudio = "best-audio-bytes"

func testMedia(durationSeconds int) *ResolvedMedia {
	return &ResolvedMedia{
		Title:           `Test: "Song"`,
		DurationSeconds: durationSeconds,
		Thumbnail:       "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg",
		Streams: []StreamDescriptor{
			{Bitrate: 64000, Container: "webm", MimeType: `audio/webm; codecs="opus"`, HasAudio: true, Source: sourceOf("low-audio")},
			{Bitrate: 128000, Container: "mp4", MimeType: `audio/mp4; codecs="mp4a.40.2"`, HasAudio: true, ContentLength: int64(len(bestAudio)), Source: sourceOf(bestAudio)},
			{Bitrate: 32000, Container: "webm", MimeType: `audio/webm; codecs="opus"`, HasAudio: true, Source: sourceOf("lowest-audio")},
			{Bitrate: 2500000, Container: "mp4", MimeType: `video/mp4; codecs="avc1"`, HasVideo: true, Source: sourceOf("video-only")},
		},
	}
}

func testConfig() Config {
	return Config{
		MaxDuration:    DefaultMaxDuration,
		BitrateKbps:    DefaultBitrateKbps,
		Transcode:      true,
		Fallback:       true,
		Delivery:       DeliveryStream,
		ResolveTimeout: time.Second,
	}
}

func newTestPipeline(res Resolver, tc Transcoder, cfg Config, logs io.Writer, m *metrics.Metrics) *Pipeline {
	if logs == nil {
		logs = io.Discard
	}
	return NewPipeline(res, tc, cfg, logger.NewWithWriter(logs, "debug", "json"), m)
}

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestPipeline_Deliver_transcodes_best_audio(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(200)}}}
	tc := &fakeTranscoder{available: true, output: "mp3-bytes"}
	p := newTestPipeline(res, tc, testConfig(), nil, nil)

	rec := httptest.NewRecorder()
	err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL, Format: FormatMP3})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("expected audio/mpeg, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="Test Song.mp3"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if rec.Body.String() != "mp3-bytes" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if tc.input != bestAudio {
		t.Errorf("expected transcoder input %q, got %q", bestAudio, tc.input)
	}
	if tc.format != "mp3" || tc.bitrate != 128 {
		t.Errorf("transcoder called with %s@%d", tc.format, tc.bitrate)
	}
}

func TestPipeline_Deliver_passthrough_streams_native_container(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(200)}}}
	tc := &fakeTranscoder{available: true, output: "mp3-bytes"}
	p := newTestPipeline(res, tc, testConfig(), nil, nil)

	rec := httptest.NewRecorder()
	if err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL, Format: FormatPassthrough}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if tc.Calls() != 0 {
		t.Errorf("transcoder should not run, ran %d times", tc.Calls())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mp4" {
		t.Errorf("expected audio/mp4, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="Test Song.m4a"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if cl := rec.Header().Get("Content-Length"); cl != fmt.Sprint(len(bestAudio)) {
		t.Errorf("unexpected Content-Length %q", cl)
	}
	if rec.Body.String() != bestAudio {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestPipeline_Deliver_direct_when_transcoder_unavailable(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(200)}}}
	tc := &fakeTranscoder{available: false}
	p := newTestPipeline(res, tc, testConfig(), nil, nil)

	rec := httptest.NewRecorder()
	if err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if tc.Calls() != 0 {
		t.Error("unavailable transcoder was called")
	}
	if rec.Body.String() != bestAudio {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestPipeline_Deliver_invalid_url_skips_resolver(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(200)}}}
	p := newTestPipeline(res, nil, testConfig(), nil, nil)

	rec := httptest.NewRecorder()
	err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: "https://example.com/watch?v=dQw4w9WgXcQ"})
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Status() != http.StatusBadRequest || perr.Stage != StateValidating {
		t.Errorf("unexpected error %#v", err)
	}
	if res.Calls() != 0 {
		t.Errorf("resolver called %d times", res.Calls())
	}
	if rec.Body.Len() != 0 {
		t.Error("pipeline wrote a body on validation failure")
	}
}

func TestPipeline_Deliver_duration_cap(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		wantErr  bool
	}{
		{"at_limit", 600, false},
		{"over_limit", 601, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{results: []resolveResult{{media: testMedia(tt.duration)}}}
			tc := &fakeTranscoder{available: true, output: "mp3"}
			p := newTestPipeline(res, tc, testConfig(), nil, nil)

			err := p.Deliver(context.Background(), httptest.NewRecorder(), ConversionRequest{SourceURL: testURL})
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Deliver: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrDurationExceeded) {
				t.Fatalf("expected ErrDurationExceeded, got %v", err)
			}
			var perr *Error
			if errors.As(err, &perr) && perr.Status() != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", perr.Status())
			}
			if tc.Calls() != 0 {
				t.Error("transcoder ran for an over-long video")
			}
		})
	}
}

func TestPipeline_Deliver_fallback_before_first_byte(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(200)}}}
	tc := &fakeTranscoder{available: true, outErr: errors.New("ffmpeg: exit status 1")}
	m := metrics.New()
	p := newTestPipeline(res, tc, testConfig(), nil, m)

	rec := httptest.NewRecorder()
	if err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if res.Calls() != 2 {
		t.Errorf("expected a fresh resolve for the fallback, got %d calls", res.Calls())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mp4" {
		t.Errorf("expected native container, got %q", ct)
	}
	if rec.Body.String() != bestAudio {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	out := scrape(t, m)
	for _, want := range []string{
		"audioconv_fallbacks_total 1",
		`audioconv_conversions_total{mode="transcode",outcome="failed"} 1`,
		`audioconv_conversions_total{mode="direct",outcome="ok"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestPipeline_Deliver_fallback_on_transcoder_start_error(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(200)}}}
	tc := &fakeTranscoder{available: true, startErr: errors.New("exec: not found")}
	p := newTestPipeline(res, tc, testConfig(), nil, nil)

	rec := httptest.NewRecorder()
	if err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if rec.Body.String() != bestAudio {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestPipeline_Deliver_no_fallback_when_disabled(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(200)}}}
	tc := &fakeTranscoder{available: true}
	cfg := testConfig()
	cfg.Fallback = false
	p := newTestPipeline(res, tc, cfg, nil, nil)

	rec := httptest.NewRecorder()
	err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL})
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
	if errors.Is(err, ErrResponseStarted) {
		t.Error("failure before first byte must not be marked as started")
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Message != "Conversion failed" || perr.Status() != http.StatusInternalServerError {
		t.Errorf("unexpected error %#v", err)
	}
	if res.Calls() != 1 {
		t.Errorf("expected 1 resolve, got %d", res.Calls())
	}
}

func TestPipeline_Deliver_failure_after_first_byte(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(200)}}}
	tc := &fakeTranscoder{available: true, output: "partial", outErr: errors.New("ffmpeg: exit status 1")}
	p := newTestPipeline(res, tc, testConfig(), nil, nil)

	rec := httptest.NewRecorder()
	err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL})
	if !errors.Is(err, ErrResponseStarted) {
		t.Fatalf("expected ErrResponseStarted, got %v", err)
	}
	if res.Calls() != 1 {
		t.Errorf("expected 1 resolve after bytes were sent, got %d", res.Calls())
	}
	if rec.Body.String() != "partial" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if !rec.Flushed {
		t.Error("expected first chunk to be flushed")
	}
}

func TestPipeline_Deliver_source_failure_during_transcode(t *testing.T) {
	reset := errors.New("upstream connection reset")

	t.Run("before_first_byte_falls_back", func(t *testing.T) {
		res := &fakeResolver{results: []resolveResult{{media: brokenSourceMedia("", reset)}}}
		p := newTestPipeline(res, streamingTranscoder{}, testConfig(), nil, nil)

		rec := httptest.NewRecorder()
		if err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL}); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "audio/mp4" {
			t.Errorf("expected native container, got %q", ct)
		}
		if rec.Body.String() != bestAudio {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
	})

	t.Run("before_first_byte_without_fallback", func(t *testing.T) {
		res := &fakeResolver{results: []resolveResult{{media: brokenSourceMedia("", reset)}}}
		cfg := testConfig()
		cfg.Fallback = false
		p := newTestPipeline(res, streamingTranscoder{}, cfg, nil, nil)

		rec := httptest.NewRecorder()
		err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL})
		if !errors.Is(err, reset) {
			t.Fatalf("expected upstream error, got %v", err)
		}
		if errors.Is(err, ErrResponseStarted) {
			t.Error("failure before first byte must not be marked as started")
		}
		var perr *Error
		if !errors.As(err, &perr) || perr.Status() != http.StatusInternalServerError {
			t.Errorf("unexpected error %#v", err)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("expected empty body, got %q", rec.Body.String())
		}
	})

	t.Run("after_first_byte_aborts", func(t *testing.T) {
		res := &fakeResolver{results: []resolveResult{{media: brokenSourceMedia("partial-audio", reset)}}}
		m := metrics.New()
		p := newTestPipeline(res, streamingTranscoder{}, testConfig(), nil, m)

		rec := httptest.NewRecorder()
		err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL})
		if !errors.Is(err, ErrResponseStarted) {
			t.Fatalf("expected ErrResponseStarted, got %v", err)
		}
		if !errors.Is(err, reset) {
			t.Errorf("expected upstream error in chain, got %v", err)
		}
		if res.Calls() != 1 {
			t.Errorf("expected 1 resolve after bytes were sent, got %d", res.Calls())
		}
		if !strings.Contains(scrape(t, m), `audioconv_conversions_total{mode="transcode",outcome="aborted"} 1`) {
			t.Error("expected aborted transcode to be counted")
		}
	})

	t.Run("file_mode_commits_nothing", func(t *testing.T) {
		res := &fakeResolver{results: []resolveResult{{media: brokenSourceMedia("partial-audio", reset)}}}
		fs := newTestFileStore(t, time.Minute)
		cfg := testConfig()
		cfg.Delivery = DeliveryFile
		cfg.Fallback = false
		p := newTestPipeline(res, streamingTranscoder{}, cfg, nil, nil).WithFileStore(fs)

		rec := httptest.NewRecorder()
		err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL})
		if !errors.Is(err, reset) {
			t.Fatalf("expected upstream error, got %v", err)
		}
		var perr *Error
		if !errors.As(err, &perr) || perr.Status() != http.StatusInternalServerError {
			t.Errorf("unexpected error %#v", err)
		}
		if fs.Len() != 0 {
			t.Errorf("expected no stored files, got %d", fs.Len())
		}
		if left, _ := os.ReadDir(fs.dir); len(left) != 0 {
			t.Errorf("expected partial file removed, found %d files", len(left))
		}
		if rec.Body.Len() != 0 {
			t.Errorf("expected empty body, got %q", rec.Body.String())
		}
	})
}

func TestPipeline_Deliver_no_audio_formats(t *testing.T) {
	media := testMedia(200)
	media.Streams = []StreamDescriptor{{Bitrate: 1000000, HasVideo: true, Source: sourceOf("video")}}
	res := &fakeResolver{results: []resolveResult{{media: media}}}
	p := newTestPipeline(res, nil, testConfig(), nil, nil)

	err := p.Deliver(context.Background(), httptest.NewRecorder(), ConversionRequest{SourceURL: testURL})
	if !errors.Is(err, ErrNoAudioFormat) {
		t.Fatalf("expected ErrNoAudioFormat, got %v", err)
	}
	var perr *Error
	if errors.As(err, &perr) && perr.Message != "No audio formats found" {
		t.Errorf("unexpected message %q", perr.Message)
	}
}

func TestPipeline_Deliver_empty_direct_stream(t *testing.T) {
	media := testMedia(200)
	media.Streams = []StreamDescriptor{{Bitrate: 128000, HasAudio: true, Source: sourceOf("")}}
	res := &fakeResolver{results: []resolveResult{{media: media}}}
	p := newTestPipeline(res, nil, testConfig(), nil, nil)

	rec := httptest.NewRecorder()
	err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL})
	var perr *Error
	if !errors.As(err, &perr) || perr.Message != "Streaming failed" {
		t.Fatalf("expected streaming failure, got %v", err)
	}
	if errors.Is(err, ErrResponseStarted) {
		t.Error("nothing was written, error must not be marked as started")
	}
}

func TestPipeline_resolve_retries_blocked_with_rotated_identity(t *testing.T) {
	rotated := RequestIdentity{UserAgent: "rotated-agent", ForwardedFor: "203.0.113.7"}
	res := &fakeResolver{results: []resolveResult{
		{err: fmt.Errorf("status 403: %w", ErrUpstreamBlocked)},
		{media: testMedia(200)},
	}}
	m := metrics.New()
	p := newTestPipeline(res, nil, testConfig(), nil, m).
		WithIdentityRotation(func() RequestIdentity { return rotated })

	rec := httptest.NewRecorder()
	if err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Calls() != 2 {
		t.Fatalf("expected 2 resolves, got %d", res.Calls())
	}
	if !res.identities[0].IsZero() {
		t.Errorf("expected default identity on first attempt, got %+v", res.identities[0])
	}
	if res.identities[1] != rotated {
		t.Errorf("retry used %+v", res.identities[1])
	}
	if !strings.Contains(scrape(t, m), "audioconv_upstream_blocked_total 1") {
		t.Error("blocked attempt not counted")
	}
}

func TestPipeline_resolve_errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		rotate     bool
		wantStatus int
		wantCalls  int
	}{
		{"blocked_twice", fmt.Errorf("bot check: %w", ErrUpstreamBlocked), true, http.StatusGone, 2},
		{"blocked_no_rotation", fmt.Errorf("bot check: %w", ErrUpstreamBlocked), false, http.StatusGone, 1},
		{"not_found", fmt.Errorf("private: %w", ErrNotFound), true, http.StatusInternalServerError, 1},
		{"transient", errors.New("connection reset"), true, http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{results: []resolveResult{{err: tt.err}}}
			p := newTestPipeline(res, nil, testConfig(), nil, nil)
			if tt.rotate {
				p.WithIdentityRotation(func() RequestIdentity { return RequestIdentity{UserAgent: "x"} })
			}

			err := p.Deliver(context.Background(), httptest.NewRecorder(), ConversionRequest{SourceURL: testURL})
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if perr.Status() != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, perr.Status())
			}
			if perr.Stage != StateResolving {
				t.Errorf("expected resolving stage, got %s", perr.Stage)
			}
			if res.Calls() != tt.wantCalls {
				t.Errorf("expected %d resolves, got %d", tt.wantCalls, res.Calls())
			}
		})
	}
}

func TestPipeline_Deliver_file_mode(t *testing.T) {
	res := &fakeResolver{results: []resolveResult{{media: testMedia(125)}}}
	tc := &fakeTranscoder{available: true, output: "mp3-file-bytes"}
	fs := newTestFileStore(t, time.Minute)
	cfg := testConfig()
	cfg.Delivery = DeliveryFile
	p := newTestPipeline(res, tc, cfg, nil, nil).WithFileStore(fs)

	rec := httptest.NewRecorder()
	if err := p.Deliver(context.Background(), rec, ConversionRequest{SourceURL: testURL}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON, got %q", ct)
	}
	if fs.Len() != 1 {
		t.Errorf("expected 1 stored file, got %d", fs.Len())
	}
}

func TestState_String(t *testing.T) {
	if StateDirectStreaming.String() != "direct_streaming" || StateTranscoding.String() != "transcoding" {
		t.Error("unexpected state names")
	}
	if State(99).String() != "unknown" {
		t.Error("unknown state should render as unknown")
	}
}
