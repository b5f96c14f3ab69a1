package converter

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const (
	// MaxTitleLength caps the sanitized title, in runes, before the extension.
	MaxTitleLength = 120

	defaultTitle = "youtube-audio"
)

// SanitizeTitle strips characters that are unsafe in file names or header
// values and truncates the result to MaxTitleLength runes.
func SanitizeTitle(title string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '?', '%', '*', ':', '|', '"', '<', '>':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, title)

	if r := []rune(clean); len(r) > MaxTitleLength {
		clean = string(r[:MaxTitleLength])
	}
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return defaultTitle
	}
	return clean
}

// Filename joins the sanitized title and ext.
func Filename(title, ext string) string {
	return SanitizeTitle(title) + "." + ext
}

// ContentDisposition builds an attachment header for name. Non-ASCII names
// also get an RFC 5987 filename* parameter.
func ContentDisposition(name string) string {
	v := fmt.Sprintf("attachment; filename=%q", name)
	for _, r := range name {
		if r > unicode.MaxASCII {
			return v + "; filename*=UTF-8''" + url.PathEscape(name)
		}
	}
	return v
}

// FormatDuration renders seconds as M:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
