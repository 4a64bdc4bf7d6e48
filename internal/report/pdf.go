package report

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"compass/internal/agent/ports"
	"compass/internal/shared/logging"
)

// Headless browsers probed for PDF conversion, in preference order.
var chromiumCandidates = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// ChromiumPDF implements ports.PDFRenderer by shelling out to a headless
// Chromium. When no browser binary is installed the renderer reports itself
// unavailable and report generation simply omits the PDF link.
type ChromiumPDF struct {
	binary string
	logger logging.Logger
}

var _ ports.PDFRenderer = (*ChromiumPDF)(nil)

// NewChromiumPDF probes PATH for a usable browser binary.
func NewChromiumPDF(logger logging.Logger) *ChromiumPDF {
	r := &ChromiumPDF{logger: logging.OrNop(logger)}
	for _, name := range chromiumCandidates {
		if path, err := exec.LookPath(name); err == nil {
			r.binary = path
			break
		}
	}
	if r.binary == "" {
		r.logger.Info("No headless browser found; PDF export disabled")
	}
	return r
}

// Available reports whether PDF conversion can be offered.
func (r *ChromiumPDF) Available() bool { return r.binary != "" }

// Render converts HTML to PDF bytes through a one-shot headless browser run.
func (r *ChromiumPDF) Render(ctx context.Context, html string) ([]byte, error) {
	if r.binary == "" {
		return nil, fmt.Errorf("pdf renderer unavailable")
	}

	dir, err := os.MkdirTemp("", "compass-report-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	htmlPath := filepath.Join(dir, "report.html")
	pdfPath := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(htmlPath, []byte(html), 0o644); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.binary,
		"--headless", "--disable-gpu", "--no-sandbox",
		"--print-to-pdf="+pdfPath, htmlPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdf conversion: %w: %s", err, string(out))
	}

	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("pdf conversion produced no output: %w", err)
	}
	return pdf, nil
}
