package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"

	"BdLens/internal/ports"
)

const layoutTool = "pdftotext"

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor turns PDF files into text: pdftotext -layout first, then the
// pure Go page-by-page reader.
type Extractor struct {
	runner CommandRunner
	pages  func(path string) (string, error)
	logger *slog.Logger
}

var _ ports.ContentExtractor = (*Extractor)(nil)

// New returns an extractor that shells out to pdftotext.
func New(logger *slog.Logger) *Extractor {
	return NewWithRunner(execRunner{}, logger)
}

// NewWithRunner injects the command runner used for the layout stage.
func NewWithRunner(runner CommandRunner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{runner: runner, pages: pageText, logger: logger}
}

// ExtractText returns "" when neither stage yields non-whitespace text.
func (e *Extractor) ExtractText(ctx context.Context, path string) string {
	text, err := e.layoutText(ctx, path)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	e.logger.Debug("layout extraction unusable, trying page reader", "path", path, "error", err)

	text, err = e.pages(path)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	e.logger.Warn("pdf extraction failed", "path", path, "error", err)
	return ""
}

func (e *Extractor) layoutText(ctx context.Context, path string) (string, error) {
	if e.runner == nil {
		return "", errors.New("no command runner")
	}
	out, err := e.runner.Run(ctx, layoutTool, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", layoutTool, err)
	}
	return string(out), nil
}

// pageText concatenates the plain text of every page. The reader panics on
// some malformed files, so panics become errors.
func pageText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// Metadata reads the document information dictionary. Any failure yields
// the zero value.
func (e *Extractor) Metadata(path string) (meta ports.PDFMetadata) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("pdf metadata unreadable", "path", path, "panic", r)
			meta = ports.PDFMetadata{}
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		e.logger.Debug("pdf metadata unreadable", "path", path, "error", err)
		return ports.PDFMetadata{}
	}
	defer f.Close()

	info := r.Trailer().Key("Info")
	return ports.PDFMetadata{
		Title:     strings.TrimSpace(info.Key("Title").Text()),
		Author:    strings.TrimSpace(info.Key("Author").Text()),
		Subject:   strings.TrimSpace(info.Key("Subject").Text()),
		Creator:   strings.TrimSpace(info.Key("Creator").Text()),
		PageCount: r.NumPage(),
	}
}
