package rpcx

import (
	"strings"
)

// extensionContentTypes reproduces the streaming endpoint's content-type
// table exactly, per spec.md §6.2.
var extensionContentTypes = map[string]string{
	"json": "application/json",
	"txt":  "text/plain; charset=utf-8",
	"html": "text/html; charset=utf-8",
	"htm":  "text/html; charset=utf-8",
	"css":  "text/css; charset=utf-8",
	"js":   "application/javascript",
	"mjs":  "application/javascript",
	"ts":   "application/typescript",
	"tsx":  "application/typescript",
	"xml":  "application/xml",
	"svg":  "image/svg+xml",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"ico":  "image/x-icon",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"md":   "text/markdown; charset=utf-8",
	"mdx":  "text/markdown; charset=utf-8",
	"wasm": "application/wasm",
	"mp3":  "audio/mpeg",
	"mp4":  "video/mp4",
	"webm": "video/webm",
}

// contentTypeForPath returns the recognized content type for path's
// extension, falling back to application/octet-stream for anything else.
func contentTypeForPath(path string) string {
	ext := path
	if idx := strings.LastIndexByte(path, '.'); idx >= 0 {
		ext = path[idx+1:]
	} else {
		ext = ""
	}
	if ct, ok := extensionContentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}
