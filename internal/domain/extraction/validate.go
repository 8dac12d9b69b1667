package extraction

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/medreport/medreport/internal/platform/apperr"
)

// Kind is the accepted document type, detected from content.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindPNG  Kind = "png"
	KindJPEG Kind = "jpeg"
)

var sniffedKinds = map[string]Kind{
	"application/pdf": KindPDF,
	"image/png":       KindPNG,
	"image/jpeg":      KindJPEG,
}

var extensionKinds = map[string]Kind{
	".pdf":  KindPDF,
	".png":  KindPNG,
	".jpg":  KindJPEG,
	".jpeg": KindJPEG,
}

// MIMEType returns the content type archived alongside the document.
func (k Kind) MIMEType() string {
	switch k {
	case KindPDF:
		return "application/pdf"
	case KindPNG:
		return "image/png"
	case KindJPEG:
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func (k Kind) IsImage() bool { return k == KindPNG || k == KindJPEG }

// DetectKind checks size and type. The content decides the type; a file
// extension, when present, must agree with it.
func DetectKind(fileName string, data []byte, maxBytes int64) (Kind, error) {
	if len(data) == 0 {
		return "", apperr.InvalidInput("file is empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", apperr.InvalidInput("file exceeds the %d byte limit", maxBytes)
	}

	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	kind, ok := sniffedKinds[sniffed]
	if !ok {
		return "", apperr.InvalidInput("unsupported file type %s", sniffed)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext != "" {
		extKind, known := extensionKinds[ext]
		if !known {
			return "", apperr.InvalidInput("unsupported file extension %s", ext)
		}
		if extKind != kind {
			return "", apperr.InvalidInput("file extension %s does not match its %s content", ext, kind)
		}
	}
	return kind, nil
}
