// Package qr presents device-linking prompts: a QR code opened in an image
// viewer when a desktop session is available, otherwise drawn in the
// terminal.
package qr

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// ImageName is the QR image written under the presenter directory.
const ImageName = "qr.png"

// Options configures a Presenter.
type Options struct {
	// Dir receives the temporary QR image.
	Dir string
	// Terminal forces terminal rendering even when a GUI is detected.
	Terminal bool
	// Out receives terminal output. Defaults to os.Stdout.
	Out io.Writer
}

// Presenter renders provisioning prompts.
type Presenter struct {
	dir      string
	terminal bool
	out      io.Writer
	logger   *zap.Logger

	// replaced in tests
	hasGUI func() bool
	open   func(path string) error
}

// New creates a presenter.
func New(opts Options, logger *zap.Logger) *Presenter {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Presenter{
		dir:      opts.Dir,
		terminal: opts.Terminal,
		out:      out,
		logger:   logger,
		hasGUI:   HasGUI,
		open:     openImage,
	}
}

// ShowURL displays url as a QR code.
func (p *Presenter) ShowURL(url string) error {
	if p.terminal || !p.hasGUI() {
		fmt.Fprintln(p.out, "Scan this QR code with the app on your phone:")
		qrterminal.GenerateHalfBlock(url, qrterminal.L, p.out)
		return nil
	}

	if err := os.MkdirAll(p.dir, 0700); err != nil {
		return fmt.Errorf("create qr dir: %w", err)
	}
	path := p.imagePath()
	if err := qrcode.WriteFile(url, qrcode.Medium, 512, path); err != nil {
		return fmt.Errorf("write qr image: %w", err)
	}
	p.logger.Debug("opening qr image", zap.String("path", path))
	if err := p.open(path); err != nil {
		return fmt.Errorf("open qr image: %w", err)
	}
	return nil
}

// ShowCode prints a numeric pairing code.
func (p *Presenter) ShowCode(code string) error {
	_, err := fmt.Fprintf(p.out, "Enter this code on your phone under Linked devices: %s\n", code)
	return err
}

// Cleanup removes the QR image, if one was written.
func (p *Presenter) Cleanup() {
	if err := os.Remove(p.imagePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("remove qr image failed", zap.Error(err))
	}
}

func (p *Presenter) imagePath() string {
	return filepath.Join(p.dir, ImageName)
}

// HasGUI reports whether an image viewer can be shown.
func HasGUI() bool {
	switch runtime.GOOS {
	case "darwin":
		return true
	case "linux":
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			return true
		}
		if os.Getenv("DISPLAY") == "" {
			return false
		}
		return exec.Command("xset", "q").Run() == nil
	default:
		return false
	}
}

func openImage(path string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.Command("xdg-open", path).Start()
	case "darwin":
		return exec.Command("open", path).Start()
	default:
		return errors.New("unsupported os")
	}
}
