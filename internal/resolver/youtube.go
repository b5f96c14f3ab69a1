package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"audio-converter/internal/converter"

	"github.com/kkdai/youtube/v2"
)

// YouTube resolves video URLs with github.com/kkdai/youtube.
type YouTube struct {
	client    *youtube.Client
	transport http.RoundTripper
	log       *slog.Logger
}

// NewYouTube returns a YouTube resolver. A nil transport uses
// http.DefaultTransport.
func NewYouTube(transport http.RoundTripper, log *slog.Logger) *YouTube {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if log == nil {
		log = slog.Default()
	}
	return &YouTube{
		client:    newClient(transport, converter.RequestIdentity{}),
		transport: transport,
		log:       log,
	}
}

func newClient(base http.RoundTripper, id converter.RequestIdentity) *youtube.Client {
	return &youtube.Client{
		HTTPClient: &http.Client{
			Transport: &headerTransport{base: base, header: id.Header()},
		},
	}
}

// Resolve implements converter.Resolver. A non-zero identity gets a fresh
// client so its headers never leak into other requests.
func (y *YouTube) Resolve(ctx context.Context, url string, id converter.RequestIdentity) (*converter.ResolvedMedia, error) {
	client := y.client
	if !id.IsZero() {
		client = newClient(y.transport, id)
	}

	video, err := client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classify(err)
	}

	media := toMedia(video, func(ctx context.Context, f *youtube.Format) (io.ReadCloser, error) {
		rc, _, err := client.GetStreamContext(ctx, video, f)
		if err != nil {
			return nil, classify(err)
		}
		return rc, nil
	})

	y.log.Debug("video resolved",
		slog.String("video_id", video.ID),
		slog.Int("duration", media.DurationSeconds),
		slog.Int("formats", len(media.Streams)))
	return media, nil
}

type openFunc func(ctx context.Context, f *youtube.Format) (io.ReadCloser, error)

// toMedia maps kkdai's video model onto the converter's. Formats without a
// usable mime type are skipped.
func toMedia(video *youtube.Video, open openFunc) *converter.ResolvedMedia {
	media := &converter.ResolvedMedia{
		Title:           video.Title,
		DurationSeconds: int(video.Duration.Seconds()),
	}
	// Thumbnails are ordered smallest first.
	if n := len(video.Thumbnails); n > 0 {
		media.Thumbnail = video.Thumbnails[n-1].URL
	}

	for i := range video.Formats {
		f := &video.Formats[i]
		kind, container, ok := splitMime(f.MimeType)
		if !ok {
			continue
		}

		d := converter.StreamDescriptor{
			Bitrate:       bitrate(f),
			Container:     container,
			MimeType:      f.MimeType,
			HasAudio:      kind == "audio" || f.AudioChannels > 0,
			HasVideo:      kind == "video",
			ContentLength: f.ContentLength,
		}
		if open != nil {
			d.Source = func(ctx context.Context) (io.ReadCloser, error) {
				return open(ctx, f)
			}
		}
		media.Streams = append(media.Streams, d)
	}
	return media
}

// splitMime turns `audio/webm; codecs="opus"` into ("audio", "webm").
func splitMime(mime string) (kind, container string, ok bool) {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	kind, container, ok = strings.Cut(strings.TrimSpace(mime), "/")
	if !ok || kind == "" || container == "" {
		return "", "", false
	}
	return strings.ToLower(kind), strings.ToLower(container), true
}

func bitrate(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return f.AverageBitrate
}

// classify wraps kkdai errors with the converter's sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return fmt.Errorf("%w: %w", converter.ErrNotFound, err)
	case errors.Is(err, youtube.ErrLoginRequired):
		// Bot checks come back as LOGIN_REQUIRED.
		return fmt.Errorf("%w: %w", converter.ErrUpstreamBlocked, err)
	}

	var statusErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		if strings.Contains(strings.ToLower(statusErr.Reason), "bot") {
			return fmt.Errorf("%w: %w", converter.ErrUpstreamBlocked, err)
		}
		return fmt.Errorf("%w: %w", converter.ErrNotFound, err)
	}

	var codeErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &codeErr) {
		switch int(codeErr) {
		case http.StatusForbidden, http.StatusGone, http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", converter.ErrUpstreamBlocked, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", converter.ErrNotFound, err)
		}
	}
	return err
}
