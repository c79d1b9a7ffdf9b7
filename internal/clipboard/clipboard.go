// Package clipboard reads and writes the platform clipboard.
package clipboard

import "errors"

// ErrImageUnsupported is returned by WriteImage when no image-capable
// clipboard tool is available.
var ErrImageUnsupported = errors.New("clipboard: image transfer not supported on this system")

// Clipboard is the native clipboard boundary used by the change detector
// and the shell.
type Clipboard interface {
	// ReadText returns the current text, or "" if the clipboard holds none.
	ReadText() (string, error)
	// ReadImage returns the current image as PNG bytes, or nil if the
	// clipboard holds no image.
	ReadImage() ([]byte, error)
	WriteText(text string) error
	WriteImage(png []byte) error
}
