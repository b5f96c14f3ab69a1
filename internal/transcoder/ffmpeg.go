package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

const stderrTail = 4 << 10

// encoders maps an output format to its ffmpeg audio codec.
var encoders = map[string]string{
	"mp3": "libmp3lame",
}

// FFmpeg transcodes with the ffmpeg command line tool.
type FFmpeg struct {
	Path string
	log  *slog.Logger
}

// New returns an FFmpeg transcoder. If path is empty, it looks for "ffmpeg"
// in PATH.
func New(path string, log *slog.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpeg{Path: path, log: log}
}

// Available checks if ffmpeg is executable.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.Path)
	return err == nil
}

// Transcode starts ffmpeg reading in from stdin and returns its stdout.
// Reading past the last byte reports the process exit status, so a crash
// mid-stream surfaces as a read error rather than a clean EOF. A read error
// from in kills ffmpeg and is returned in place of EOF, so a truncated
// source never looks like a finished encode. Close kills the process. The
// process also dies when ctx is done.
func (f *FFmpeg) Transcode(ctx context.Context, in io.Reader, format string, bitrateKbps int) (io.ReadCloser, error) {
	codec, ok := encoders[format]
	if !ok {
		return nil, fmt.Errorf("unsupported output format %q", format)
	}

	// ffmpeg -i pipe:0 -vn -c:a libmp3lame -b:a 128k -f mp3 pipe:1
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-c:a", codec,
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-f", format,
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, f.Path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	p := &process{cmd: cmd, stdout: stdout, stderr: stderr}

	// Feeding stdin from our own goroutine keeps Wait from blocking on a
	// stalled source.
	go func() {
		src := &sourceReader{r: in}
		if _, err := io.Copy(stdin, src); err != nil {
			if src.err != nil {
				// Closing stdin here would let ffmpeg finish a short file
				// and exit 0.
				f.log.Warn("ffmpeg input failed", slog.String("error", src.err.Error()))
				p.fail(src.err)
				_ = cmd.Process.Kill()
			} else {
				f.log.Debug("ffmpeg input copy stopped", slog.String("error", err.Error()))
			}
		}
		stdin.Close()
	}()

	return p, nil
}

// sourceReader remembers the first non-EOF error from r, so input failures
// can be told apart from ffmpeg closing its stdin.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(b []byte) (int, error) {
	n, err := s.r.Read(b)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

type process struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *tailBuffer

	once    sync.Once
	waitErr error

	mu       sync.Mutex
	inputErr error
}

// ErrInput wraps a failure of the stream being transcoded.
var ErrInput = errors.New("ffmpeg input failed")

func (p *process) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if err == io.EOF {
		p.once.Do(p.wait)
		if ierr := p.inputError(); ierr != nil {
			return n, fmt.Errorf("%w: %w", ErrInput, ierr)
		}
		if p.waitErr != nil {
			return n, p.waitErr
		}
	}
	return n, err
}

func (p *process) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inputErr == nil {
		p.inputErr = err
	}
}

func (p *process) inputError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputErr
}

func (p *process) wait() {
	if err := p.cmd.Wait(); err != nil {
		if msg := p.stderr.String(); msg != "" {
			p.waitErr = fmt.Errorf("ffmpeg: %w: %s", err, msg)
			return
		}
		p.waitErr = fmt.Errorf("ffmpeg: %w", err)
	}
}

// Close kills ffmpeg if it is still running and reaps it.
func (p *process) Close() error {
	p.once.Do(func() {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
