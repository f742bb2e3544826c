// Package classify labels file content with a MIME type. It never fails past
// its boundary: an unreadable or unidentifiable file yields an empty label.
package classify

import "github.com/gabriel-vasile/mimetype"

// Func is the classification capability consumed by the scanner.
type Func func(path string) string

// Detect sniffs the MIME type of the file at path. The empty string means
// classification failed; the content record is stored anyway.
func Detect(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	return mtype.String()
}
