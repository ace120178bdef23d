package attachment

import (
	"mime"
	"slices"
	"strings"
)

var fallbackExtensions = map[string]string{
	"audio/aac":       ".aac",
	"audio/ogg":       ".ogg",
	"video/mp4":       ".mp4",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"image/heif":      ".heif",
	"audio/mp4":       ".m4a",
	"audio/x-m4a":     ".m4a",
	"audio/mpeg":      ".mp3",
	"audio/amr":       ".amr",
	"image/gif":       ".gif",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"application/pdf": ".pdf",
}

const defaultExtension = ".bin"

// ExtensionFor returns a file extension including the dot for a mime type,
// or ".bin" when none is known.
func ExtensionFor(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" {
		return defaultExtension
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		if slices.Contains(exts, ".jpg") {
			return ".jpg"
		}
		if slices.Contains(exts, ".jpeg") {
			return ".jpeg"
		}
		if ext, ok := fallbackExtensions[base]; ok && slices.Contains(exts, ext) {
			return ext
		}
		return exts[0]
	}
	if ext, ok := fallbackExtensions[base]; ok {
		return ext
	}
	return defaultExtension
}
