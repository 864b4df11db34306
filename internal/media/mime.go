package media

import (
	"mime"
	"strings"
)

type mimeInfo struct {
	ext   string
	image bool // variants can be generated
}

// mimeTypes is the upload allowlist. The stored extension always comes from
// this table, never from the client's filename.
var mimeTypes = map[string]mimeInfo{
	"image/jpeg":       {".jpg", true},
	"image/png":        {".png", true},
	"image/gif":        {".gif", true},
	"image/webp":       {".webp", true},
	"application/pdf":  {".pdf", false},
	"text/plain":       {".txt", false},
	"text/csv":         {".csv", false},
	"application/json": {".json", false},
}

// AllowedMIMEType reports whether uploads of mimeType are accepted.
func AllowedMIMEType(mimeType string) bool {
	_, ok := mimeTypes[mimeType]
	return ok
}

// IsImageMIME reports whether mimeType is an image the transformer can resize.
func IsImageMIME(mimeType string) bool {
	return mimeTypes[mimeType].image
}

func extensionFromMIME(mimeType string) string {
	if info, ok := mimeTypes[mimeType]; ok {
		return info.ext
	}
	return ".bin"
}

// resolveMIME settles the type of an upload from the sniffed type and the
// client's claim. The claim only counts when sniffing gave up
// (octet-stream) or when both sides are allowed, e.g. text/plain sniffed
// for a CSV. A sniffed type outside the allowlist always wins so that HTML
// posing as text is rejected.
func resolveMIME(detected, header string) string {
	detected, header = baseType(detected), baseType(header)
	switch {
	case detected == "application/octet-stream" && AllowedMIMEType(header):
		return header
	case AllowedMIMEType(detected) && AllowedMIMEType(header):
		return header
	default:
		return detected
	}
}

func baseType(v string) string {
	if v == "" {
		return ""
	}
	if t, _, err := mime.ParseMediaType(v); err == nil {
		return t
	}
	t, _, _ := strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
