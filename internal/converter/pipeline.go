package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"audio-converter/internal/platform/metrics"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultMaxDuration is the longest media accepted for conversion.
	DefaultMaxDuration = 10 * time.Minute
	// DefaultBitrateKbps is the constant MP3 bitrate.
	DefaultBitrateKbps = 128
	// DefaultResolveTimeout bounds one metadata lookup.
	DefaultResolveTimeout = 30 * time.Second

	chunkSize = 32 * 1024
)

// State is a step of the delivery state machine.
type State int

const (
	StateValidating State = iota
	StateResolving
	StateSelecting
	StateDirectStreaming
	StateTranscoding
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateResolving:
		return "resolving"
	case StateSelecting:
		return "selecting"
	case StateDirectStreaming:
		return "direct_streaming"
	case StateTranscoding:
		return "transcoding"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the pipeline's tunables.
type Config struct {
	MaxDuration    time.Duration
	BitrateKbps    int
	Transcode      bool
	Fallback       bool
	Delivery       DeliveryMode
	ResolveTimeout time.Duration

	// DownloadPath prefixes file IDs in DeliveryFile links,
	// e.g. "/api/downloads/".
	DownloadPath string
}

// Pipeline runs one conversion request from URL to response bytes.
//
// Transcoded streams are committed to the client only once the transcoder
// has produced its first chunk. A failure before that point may fall back to
// the original audio; a failure after it truncates the response and is
// reported as an error wrapping ErrResponseStarted.
type Pipeline struct {
	resolver   Resolver
	transcoder Transcoder
	files      *FileStore
	rotate     IdentityFunc
	cfg        Config
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewPipeline returns a Pipeline. transcoder may be nil, in which case every
// request is served by direct streaming. Metrics may be nil.
func NewPipeline(resolver Resolver, transcoder Transcoder, cfg Config, log *slog.Logger, m *metrics.Metrics) *Pipeline {
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = DefaultBitrateKbps
	}
	if cfg.Delivery == "" {
		cfg.Delivery = DeliveryStream
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/downloads/"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		resolver:   resolver,
		transcoder: transcoder,
		cfg:        cfg,
		log:        log,
		metrics:    m,
	}
}

// WithFileStore enables DeliveryFile mode.
func (p *Pipeline) WithFileStore(fs *FileStore) *Pipeline {
	p.files = fs
	return p
}

// WithIdentityRotation sets the identity used for the single retry after
// the upstream blocks a resolve. nil disables the retry.
func (p *Pipeline) WithIdentityRotation(fn IdentityFunc) *Pipeline {
	p.rotate = fn
	return p
}

// TranscodeAvailable reports whether MP3 requests will be transcoded.
func (p *Pipeline) TranscodeAvailable() bool {
	return p.cfg.Transcode && p.transcoder != nil && p.transcoder.Available()
}

// DeliveryMode returns the effective delivery mode for transcoded audio.
func (p *Pipeline) DeliveryMode() DeliveryMode {
	if p.cfg.Delivery == DeliveryFile && p.files != nil {
		return DeliveryFile
	}
	return DeliveryStream
}

// Deliver validates req, resolves it and writes the audio (or the file link)
// to w. A returned error wrapping ErrResponseStarted means w already holds a
// partial response; any other error means nothing was written.
func (p *Pipeline) Deliver(ctx context.Context, w http.ResponseWriter, req ConversionRequest) error {
	log := p.log.With(slog.String("url", req.SourceURL))

	if !ValidateURL(req.SourceURL) {
		return newError(KindValidation, StateValidating, "Invalid YouTube URL", ErrInvalidURL)
	}

	media, err := p.resolve(ctx, log, req.SourceURL)
	if err != nil {
		return err
	}

	if req.Format == FormatMP3 && p.TranscodeAvailable() {
		mode := "transcode"
		if p.DeliveryMode() == DeliveryFile {
			mode = "file"
		}
		err := p.transcode(ctx, w, log, media)
		p.metrics.IncConversions(mode, outcome(err))
		if err == nil || !p.canFallBack(err) {
			return err
		}

		log.Warn("transcode failed before response started, falling back to original audio",
			slog.String("error", err.Error()))
		p.metrics.IncFallbacks()

		// The desired output is now the native container, so selection runs
		// again against a fresh candidate set.
		media, err = p.resolve(ctx, log, req.SourceURL)
		if err != nil {
			return err
		}
	}

	err = p.streamDirect(ctx, w, log, media)
	p.metrics.IncConversions("direct", outcome(err))
	return err
}

func (p *Pipeline) canFallBack(err error) bool {
	if !p.cfg.Fallback || errors.Is(err, ErrResponseStarted) {
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Stage == StateTranscoding
}

// resolve fetches metadata, retrying once with a rotated identity if the
// upstream blocks the first attempt, and enforces the duration cap before
// any stream is opened.
func (p *Pipeline) resolve(ctx context.Context, log *slog.Logger, url string) (*ResolvedMedia, error) {
	media, err := p.resolveOnce(ctx, url, RequestIdentity{})
	if errors.Is(err, ErrUpstreamBlocked) {
		p.metrics.IncUpstreamBlocked()
		if p.rotate != nil {
			log.Warn("upstream blocked, retrying with rotated identity", slog.String("error", err.Error()))
			media, err = p.resolveOnce(ctx, url, p.rotate())
			if errors.Is(err, ErrUpstreamBlocked) {
				p.metrics.IncUpstreamBlocked()
			}
		}
	}

	switch {
	case errors.Is(err, ErrUpstreamBlocked):
		return nil, newError(KindUpstreamBlocked, StateResolving, "YouTube blocked the request, try again later", err)
	case errors.Is(err, ErrNotFound):
		return nil, newError(KindResolution, StateResolving, "Video not found or unavailable", err)
	case err != nil:
		return nil, newError(KindResolution, StateResolving, "Failed to fetch video info", err)
	}

	if limit := p.cfg.MaxDuration; limit > 0 && time.Duration(media.DurationSeconds)*time.Second > limit {
		return nil, newError(KindValidation, StateResolving, "Video is too long",
			fmt.Errorf("%w: %s is longer than %s", ErrDurationExceeded,
				FormatDuration(media.DurationSeconds), FormatDuration(int(limit.Seconds()))))
	}
	return media, nil
}

func (p *Pipeline) resolveOnce(ctx context.Context, url string, id RequestIdentity) (*ResolvedMedia, error) {
	if p.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ResolveTimeout)
		defer cancel()
	}
	media, err := p.resolver.Resolve(ctx, url, id)
	if err == nil && media == nil {
		err = errors.New("resolver returned no media")
	}
	return media, err
}

// streamDirect pipes the best audio-only stream to w in its own container.
func (p *Pipeline) streamDirect(ctx context.Context, w http.ResponseWriter, log *slog.Logger, media *ResolvedMedia) error {
	d, err := SelectStream(media.Streams, ModePassthrough)
	if err != nil {
		return newError(KindNoAudioFormat, StateSelecting, "No audio formats found", err)
	}

	src, err := d.Open(ctx)
	if err != nil {
		return newError(KindStreaming, StateDirectStreaming, "Streaming failed", err)
	}
	defer src.Close()

	buf := make([]byte, chunkSize)
	n, rerr := readFirst(src, buf)
	if n == 0 {
		if rerr == nil || rerr == io.EOF {
			rerr = io.ErrUnexpectedEOF
		}
		return newError(KindStreaming, StateDirectStreaming, "Streaming failed", rerr)
	}

	h := w.Header()
	h.Set("Content-Type", d.ContentType())
	h.Set("Content-Disposition", ContentDisposition(Filename(media.Title, d.Extension())))
	if d.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(d.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	written, err := p.pipe(w, src, buf[:n], rerr, StateDirectStreaming, KindStreaming)
	if err != nil {
		return err
	}
	log.Info("delivery completed",
		slog.String("state", StateCompleted.String()),
		slog.String("mode", "direct"),
		slog.String("content_type", d.ContentType()),
		slog.Int("bitrate", d.Bitrate),
		slog.Int64("bytes", written))
	return nil
}

// transcode re-encodes the best audio stream to MP3 and delivers it
// according to the configured delivery mode.
func (p *Pipeline) transcode(ctx context.Context, w http.ResponseWriter, log *slog.Logger, media *ResolvedMedia) error {
	d, err := SelectStream(media.Streams, ModeTranscode)
	if err != nil {
		return newError(KindNoAudioFormat, StateSelecting, "No audio formats found", err)
	}

	src, err := d.Open(ctx)
	if err != nil {
		return newError(KindStreaming, StateTranscoding, "Streaming failed", err)
	}
	defer src.Close()

	out, err := p.transcoder.Transcode(ctx, src, "mp3", p.cfg.BitrateKbps)
	if err != nil {
		return newError(KindTranscode, StateTranscoding, "Conversion failed", err)
	}
	defer out.Close()

	if p.DeliveryMode() == DeliveryFile {
		return p.transcodeToFile(w, log, media, out)
	}

	buf := make([]byte, chunkSize)
	n, rerr := readFirst(out, buf)
	if n == 0 {
		if rerr == nil || rerr == io.EOF {
			rerr = ErrEmptyOutput
		}
		return newError(KindTranscode, StateTranscoding, "Conversion failed", rerr)
	}

	h := w.Header()
	h.Set("Content-Type", "audio/mpeg")
	h.Set("Content-Disposition", ContentDisposition(Filename(media.Title, "mp3")))
	w.WriteHeader(http.StatusOK)

	written, err := p.pipe(w, out, buf[:n], rerr, StateTranscoding, KindTranscode)
	if err != nil {
		return err
	}
	log.Info("delivery completed",
		slog.String("state", StateCompleted.String()),
		slog.String("mode", "transcode"),
		slog.Int("source_bitrate", d.Bitrate),
		slog.Int64("bytes", written))
	return nil
}

// transcodeToFile finishes the whole transcode before writing anything, so
// every failure here is still reportable as a JSON error.
func (p *Pipeline) transcodeToFile(w http.ResponseWriter, log *slog.Logger, media *ResolvedMedia, out io.Reader) error {
	id, f, err := p.files.Create("mp3")
	if err != nil {
		return newError(KindTranscode, StateTranscoding, "Conversion failed", err)
	}

	size, err := io.Copy(f, out)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size == 0 {
		err = ErrEmptyOutput
	}
	if err != nil {
		if rerr := os.Remove(f.Name()); rerr != nil && !os.IsNotExist(rerr) {
			log.Warn("remove partial file failed",
				slog.String("path", f.Name()), slog.String("error", rerr.Error()))
		}
		return newError(KindTranscode, StateTranscoding, "Conversion failed", err)
	}

	name := Filename(media.Title, "mp3")
	entry := p.files.Commit(FileEntry{
		ID:          id,
		Path:        f.Name(),
		Filename:    name,
		ContentType: "audio/mpeg",
		Size:        size,
	})

	writeJSON(w, http.StatusOK, FileResponse{
		Title:       media.Title,
		Thumbnail:   media.Thumbnail,
		Duration:    FormatDuration(media.DurationSeconds),
		Quality:     strconv.Itoa(p.cfg.BitrateKbps) + "kbps",
		Size:        humanize.Bytes(uint64(size)),
		DownloadURL: p.cfg.DownloadPath + entry.ID,
		Filename:    name,
	})

	log.Info("delivery completed",
		slog.String("state", StateCompleted.String()),
		slog.String("mode", "file"),
		slog.String("file_id", entry.ID),
		slog.Int64("bytes", size))
	return nil
}

// pipe writes first, flushes so the client sees bytes promptly, then copies
// the rest of src. Headers must already be written; any error is wrapped
// with ErrResponseStarted.
func (p *Pipeline) pipe(w http.ResponseWriter, src io.Reader, first []byte, firstErr error, stage State, kind Kind) (int64, error) {
	n, err := w.Write(first)
	total := int64(n)
	if err == nil {
		_ = http.NewResponseController(w).Flush()
		switch {
		case firstErr == nil:
			var copied int64
			copied, err = io.Copy(w, src)
			total += copied
		case firstErr != io.EOF:
			err = firstErr
		}
	}
	p.metrics.AddBytesStreamed(total)

	if err != nil {
		return total, afterStart(newError(kind, stage, "Stream interrupted", err))
	}
	return total, nil
}

// readFirst reads until buf holds at least one byte or src fails.
func readFirst(src io.Reader, buf []byte) (int, error) {
	for {
		n, err := src.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrResponseStarted):
		return "aborted"
	default:
		return "failed"
	}
}
