// Package extract turns raw document bytes into plain UTF-8 text.
//
// Dispatch is by lowercase filename extension through a decoder registry.
// Extraction never returns an error: a document that cannot be decoded
// yields a Result carrying a diagnostic string instead, so one bad file
// cannot abort a multi-document batch.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Result is the outcome of one extraction. Exactly one of Text or
// Diagnostic is populated.
type Result struct {
	Text       string
	Diagnostic string
}

// OK reports whether readable text was extracted.
func (r Result) OK() bool {
	return r.Diagnostic == ""
}

// String returns the extracted text, or the diagnostic when extraction
// produced none. Batch callers concatenate this either way.
func (r Result) String() string {
	if r.Diagnostic != "" {
		return r.Diagnostic
	}
	return r.Text
}

func diagnosticf(format string, args ...interface{}) Result {
	return Result{Diagnostic: fmt.Sprintf(format, args...)}
}

// Decoder converts raw file bytes into text for one format.
type Decoder interface {
	Decode(data []byte) (string, error)
}

// DecoderFunc adapts a plain function into a Decoder.
type DecoderFunc func(data []byte) (string, error)

func (f DecoderFunc) Decode(data []byte) (string, error) {
	return f(data)
}

const ocrPlaceholder = "OCR not implemented yet for images."

var (
	registry     = map[string]Decoder{}
	placeholders = map[string]bool{}
)

// Register binds a decoder to a lowercase extension (including the dot).
// New formats register a decoder instead of extending a conditional chain.
func Register(ext string, dec Decoder) {
	registry[strings.ToLower(ext)] = dec
}

// RegisterPlaceholder binds a decoder whose output is fixed stand-in
// text rather than the file's content. Image formats use this until
// OCR lands.
func RegisterPlaceholder(ext string, dec Decoder) {
	ext = strings.ToLower(ext)
	registry[ext] = dec
	placeholders[ext] = true
}

// Supported reports whether an extension has a decoder that reads the
// file's actual text. Placeholder formats decode but are not supported.
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	return registry[ext] != nil && !placeholders[ext]
}

func init() {
	Register(".pdf", DecoderFunc(decodePDF))
	Register(".docx", DecoderFunc(decodeDocx))
	Register(".csv", DecoderFunc(decodeCSV))
	Register(".json", DecoderFunc(decodeJSON))
	for _, ext := range []string{".html", ".htm", ".xml"} {
		Register(ext, DecoderFunc(decodeMarkup))
	}
	Register(".txt", DecoderFunc(func(data []byte) (string, error) {
		return decodeUTF8(data), nil
	}))
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".webp"} {
		RegisterPlaceholder(ext, DecoderFunc(func([]byte) (string, error) {
			return ocrPlaceholder, nil
		}))
	}
}

// Extract decodes the file content and returns trimmed text, or a
// diagnostic describing why no text was obtained. It never panics and
// never returns an error.
func Extract(data []byte, filename string) (res Result) {
	ext := strings.ToLower(filepath.Ext(filename))
	dec, ok := registry[ext]
	if !ok {
		return diagnosticf("unsupported file type: %s", ext)
	}

	defer func() {
		if p := recover(); p != nil {
			res = diagnosticf("error processing file: %v", p)
		}
	}()

	text, err := dec.Decode(data)
	if err != nil {
		return diagnosticf("error processing file: %v", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Diagnostic: "could not extract any readable text"}
	}
	return Result{Text: text}
}

// decodeUTF8 interprets bytes as UTF-8, dropping invalid sequences.
func decodeUTF8(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}
