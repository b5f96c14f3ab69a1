package converter

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// Format is the output the client asked for.
type Format int

const (
	// FormatMP3 re-encodes the best audio stream to MP3.
	FormatMP3 Format = iota
	// FormatPassthrough delivers the original audio container untouched.
	FormatPassthrough
)

func (f Format) String() string {
	if f == FormatPassthrough {
		return "passthrough"
	}
	return "mp3"
}

// ParseFormat maps the request body's "format" field. Empty means MP3.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mp3":
		return FormatMP3, true
	case "passthrough", "original":
		return FormatPassthrough, true
	default:
		return FormatMP3, false
	}
}

// ConversionRequest is built once per incoming call and never mutated.
type ConversionRequest struct {
	SourceURL      string
	Format         Format
	ClientIdentity string
}

// SourceFunc opens the byte stream behind a StreamDescriptor.
type SourceFunc func(ctx context.Context) (io.ReadCloser, error)

// StreamDescriptor is one candidate delivery stream returned by a Resolver.
type StreamDescriptor struct {
	Bitrate       int
	Container     string
	MimeType      string
	HasAudio      bool
	HasVideo      bool
	ContentLength int64
	Source        SourceFunc
}

// AudioOnly reports whether the stream carries audio and no video.
func (d StreamDescriptor) AudioOnly() bool {
	return d.HasAudio && !d.HasVideo
}

// ContentType is the mime type without codec parameters.
func (d StreamDescriptor) ContentType() string {
	mt := d.MimeType
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if mt = strings.TrimSpace(mt); mt == "" {
		return "application/octet-stream"
	}
	return mt
}

// Extension is the file extension used in Content-Disposition.
func (d StreamDescriptor) Extension() string {
	c := strings.ToLower(strings.TrimSpace(d.Container))
	switch c {
	case "":
		return "m4a"
	case "mp4":
		if d.AudioOnly() {
			return "m4a"
		}
	}
	return c
}

// Open opens the descriptor's byte stream.
func (d StreamDescriptor) Open(ctx context.Context) (io.ReadCloser, error) {
	if d.Source == nil {
		return nil, ErrNoSource
	}
	return d.Source(ctx)
}

// ResolvedMedia is what a Resolver returns for one URL. It belongs to a
// single request and is never shared.
type ResolvedMedia struct {
	Title           string
	DurationSeconds int
	Thumbnail       string
	Streams         []StreamDescriptor
}

// RequestIdentity is the set of headers the Resolver presents upstream.
// The zero value means "use the resolver's defaults".
type RequestIdentity struct {
	UserAgent      string
	ForwardedFor   string
	AcceptLanguage string
}

// Header returns the identity as HTTP headers; empty fields are omitted.
func (id RequestIdentity) Header() http.Header {
	h := make(http.Header)
	if id.UserAgent != "" {
		h.Set("User-Agent", id.UserAgent)
	}
	if id.ForwardedFor != "" {
		h.Set("X-Forwarded-For", id.ForwardedFor)
	}
	if id.AcceptLanguage != "" {
		h.Set("Accept-Language", id.AcceptLanguage)
	}
	return h
}

// IsZero reports whether no field is set.
func (id RequestIdentity) IsZero() bool {
	return id == RequestIdentity{}
}

// IdentityFunc builds a fresh identity for the one retry made after the
// upstream blocks a request.
type IdentityFunc func() RequestIdentity

// Resolver turns a media URL into metadata and candidate streams.
// Errors wrap ErrNotFound or ErrUpstreamBlocked where applicable; anything
// else is treated as transient.
type Resolver interface {
	Resolve(ctx context.Context, url string, id RequestIdentity) (*ResolvedMedia, error)
}

// Transcoder re-encodes a byte stream. Failures after the returned reader
// has produced data surface as read errors. Close must stop any work.
type Transcoder interface {
	Available() bool
	Transcode(ctx context.Context, in io.Reader, format string, bitrateKbps int) (io.ReadCloser, error)
}

// DeliveryMode selects how transcoded audio reaches the client.
type DeliveryMode string

const (
	// DeliveryStream pipes transcoder output into the response as it arrives.
	DeliveryStream DeliveryMode = "stream"
	// DeliveryFile transcodes to a temporary file and returns a link to it.
	DeliveryFile DeliveryMode = "file"
)

// FileResponse is the JSON body returned in DeliveryFile mode.
type FileResponse struct {
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	Duration    string `json:"duration"`
	Quality     string `json:"quality"`
	Size        string `json:"size"`
	DownloadURL string `json:"downloadUrl"`
	Filename    string `json:"filename"`
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// FileEntry describes one transcoded file awaiting retrieval.
type FileEntry struct {
	ID          string
	Path        string
	Filename    string
	ContentType string
	Size        int64
	Expires     time.Time
}
