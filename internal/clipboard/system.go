package clipboard

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

const commandTimeout = 2 * time.Second

// imageTool describes how to move PNG data through a platform clipboard CLI.
type imageTool struct {
	name  string
	types []string // lists the offered MIME types; empty skips the check
	read  []string
	write []string // reads PNG on stdin; nil means use writeFile
}

var (
	wlClipboard = imageTool{
		name:  "wl-paste",
		types: []string{"wl-paste", "--list-types"},
		read:  []string{"wl-paste", "--no-newline", "--type", "image/png"},
		write: []string{"wl-copy", "--type", "image/png"},
	}
	xclipTool = imageTool{
		name:  "xclip",
		types: []string{"xclip", "-selection", "clipboard", "-t", "TARGETS", "-o"},
		read:  []string{"xclip", "-selection", "clipboard", "-t", "image/png", "-o"},
		write: []string{"xclip", "-selection", "clipboard", "-t", "image/png", "-i"},
	}
	pngpasteTool = imageTool{
		name: "pngpaste",
		read: []string{"pngpaste", "-"},
	}
)

// System is the desktop clipboard. Text goes through atotto/clipboard; images
// go through the platform tool found on PATH at construction time.
type System struct {
	image *imageTool
}

// NewSystem probes for an image-capable clipboard tool. Text support does
// not depend on the probe.
func NewSystem() *System {
	s := &System{image: detectImageTool()}
	if s.image == nil {
		slog.Debug("no image clipboard tool found, image capture disabled", "os", runtime.GOOS)
	} else {
		slog.Debug("image clipboard tool", "tool", s.image.name)
	}
	return s
}

func detectImageTool() *imageTool {
	var candidates []imageTool
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			candidates = append(candidates, wlClipboard)
		}
		candidates = append(candidates, xclipTool)
	case "darwin":
		candidates = append(candidates, pngpasteTool)
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c.read[0]); err == nil {
			return &c
		}
	}
	return nil
}

// ImageSupported reports whether images can be read from this clipboard
func (s *System) ImageSupported() bool {
	return s.image != nil
}

func (s *System) ReadText() (string, error) {
	if clipboard.Unsupported {
		return "", fmt.Errorf("clipboard: no text clipboard utility available")
	}
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return text, nil
}

func (s *System) WriteText(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	return nil
}

func (s *System) ReadImage() ([]byte, error) {
	if s.image == nil {
		return nil, nil
	}

	if len(s.image.types) > 0 {
		out, err := run(s.image.types, nil)
		if err != nil || !strings.Contains(string(out), "image/png") {
			return nil, nil
		}
	}

	out, err := run(s.image.read, nil)
	if err != nil {
		// pngpaste exits non-zero when the clipboard holds no image
		if s.image.name == pngpasteTool.name {
			return nil, nil
		}
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *System) WriteImage(png []byte) error {
	if s.image == nil {
		return ErrImageUnsupported
	}
	if s.image.write != nil {
		if _, err := run(s.image.write, png); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		return nil
	}
	return writeImageOsascript(png)
}

// writeImageOsascript loads PNG data into the macOS pasteboard via a temp file.
func writeImageOsascript(png []byte) error {
	dir, err := os.MkdirTemp("", "plate-clip-")
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "clip.png")
	if err := os.WriteFile(path, png, 0600); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	script := fmt.Sprintf(`set the clipboard to (read (POSIX file %q) as «class PNGf»)`, path)
	if _, err := run([]string{"osascript", "-e", script}, nil); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

func run(argv []string, stdin []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out, nil
}
