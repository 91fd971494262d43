// Package files handles chat uploads: whitelisting, text extraction,
// image preparation, and the stage-1 analysis pass that turns a file
// into factual context for the conversation.
package files

import (
	"io"
	"path/filepath"
	"strings"
)

// FileType classifies an upload by its extension.
type FileType string

const (
	TypeText    FileType = "text"
	TypeImage   FileType = "image"
	TypeUnknown FileType = "unknown"
)

// UnsupportedTypeMessage is returned to clients uploading anything off
// the whitelist.
const UnsupportedTypeMessage = "File type not supported.\nSupported files: Images (.png, .jpg, .webp) and Plain Text (.txt, .md, .json, .csv)."

var textExtensions = map[string]bool{
	"txt":  true,
	"md":   true,
	"json": true,
	"csv":  true,
}

var imageExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"webp": true,
}

func extensionOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Allowed reports whether the filename's extension is on the strict
// whitelist. Anything else is rejected before its bytes are touched.
func Allowed(filename string) bool {
	ext := extensionOf(filename)
	return textExtensions[ext] || imageExtensions[ext]
}

// TypeOf returns the upload class for a filename.
func TypeOf(filename string) FileType {
	ext := extensionOf(filename)
	switch {
	case textExtensions[ext]:
		return TypeText
	case imageExtensions[ext]:
		return TypeImage
	default:
		return TypeUnknown
	}
}

// ExtractText reads a text document as UTF-8, dropping invalid byte
// sequences rather than failing on them.
func ExtractText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), ""), nil
}
