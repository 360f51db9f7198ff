// Package transform converts staged notebook attachments into an
// upload-ready PDF plus a markdown note that links to it.
//
// The notebook names every attachment with a bracketed title segment, e.g.
// "Page 1 [My Title].pdf" paired with "Page 1 [My Title].txt". The PDF is
// renamed to carry the scan date instead of the title, and the text becomes
// a markdown note headed by the title and embedding the renamed PDF.
package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/models"
)

// Uploader pushes finished artifacts into the remote note hierarchy.
type Uploader interface {
	UploadPDF(ctx context.Context, localFile string) error
	UploadNote(ctx context.Context, localFile string) error
}

// Transformer derives artifacts from a working directory of staged
// attachments and hands them to the uploader.
type Transformer struct {
	uploader Uploader
	now      func() time.Time
	log      *zap.Logger
}

// NewTransformer creates a Transformer. The clock is injectable for tests.
func NewTransformer(uploader Uploader, now func() time.Time, log *zap.Logger) *Transformer {
	if now == nil {
		now = time.Now
	}
	return &Transformer{uploader: uploader, now: now, log: log}
}

// Process transforms and uploads the staged attachments. PDFs are renamed
// and uploaded first so each markdown note can reference its renamed PDF;
// notes are paired with PDFs by their shared bracketed title, falling back
// to the last renamed PDF when no title matches. Consumed files are deleted
// as it goes; on success the directory is left empty.
func (t *Transformer) Process(ctx context.Context, workDir string, attachments []models.StagedAttachment) error {
	date := t.now().Format("2006-01-02")
	pdfByTitle := make(map[string]string)
	lastPDF := ""

	for _, att := range attachments {
		name := att.Filename
		if !strings.HasSuffix(name, ".pdf") {
			continue
		}

		newName := renamedPDFName(name, date)
		newPath := filepath.Join(workDir, newName)
		if err := os.Rename(att.Path, newPath); err != nil {
			return fmt.Errorf("failed to rename %s: %w", name, err)
		}

		t.log.Info("uploading pdf", zap.String("filename", newName))
		if err := t.uploader.UploadPDF(ctx, newPath); err != nil {
			return err
		}

		if err := os.Remove(newPath); err != nil {
			return fmt.Errorf("failed to remove uploaded pdf %s: %w", newName, err)
		}

		pdfByTitle[bracketedTitle(name)] = newName
		lastPDF = newName
	}

	for _, att := range attachments {
		name := att.Filename
		if !strings.HasSuffix(name, ".txt") {
			continue
		}

		text, err := os.ReadFile(att.Path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}

		title := bracketedTitle(name)
		pdfName, ok := pdfByTitle[title]
		if !ok {
			pdfName = lastPDF
		}

		mdName := noteName(name)
		mdPath := filepath.Join(workDir, mdName)
		if err := os.WriteFile(mdPath, buildNote(title, pdfName, text), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", mdName, err)
		}

		t.log.Info("uploading markdown note",
			zap.String("filename", mdName),
			zap.String("embedded_pdf", pdfName))
		if err := t.uploader.UploadNote(ctx, mdPath); err != nil {
			return err
		}

		if err := os.Remove(att.Path); err != nil {
			return fmt.Errorf("failed to remove consumed text %s: %w", name, err)
		}
		if err := os.Remove(mdPath); err != nil {
			return fmt.Errorf("failed to remove uploaded note %s: %w", mdName, err)
		}
	}

	return nil
}

// buildNote renders the markdown note: an H1 heading from the bracketed
// title, an embed link to the renamed PDF when one exists, then the raw
// text verbatim.
func buildNote(title, pdfName string, text []byte) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "#%s\n\n", title)
	if pdfName != "" {
		fmt.Fprintf(&b, "![[%s]]\n\n", pdfName)
	}
	b.Write(text)
	return []byte(b.String())
}

// renamedPDFName derives the uploaded PDF name: the segment before the
// bracketed title, with the scan date in its place.
func renamedPDFName(filename, date string) string {
	base := strings.TrimSuffix(filename, ".pdf")
	if i := strings.Index(base, "["); i >= 0 {
		base = base[:i]
	}
	return strings.TrimRight(base, " ") + " " + date + ".pdf"
}

// noteName derives the markdown filename from a text attachment name: the
// segment before the bracketed title, with a .md extension.
func noteName(filename string) string {
	base := strings.TrimSuffix(filename, ".txt")
	if i := strings.Index(base, " ["); i >= 0 {
		base = base[:i]
	}
	return base + ".md"
}

// bracketedTitle extracts the title between the first '[' and the
// following ']'. Empty when the filename carries no bracketed segment.
func bracketedTitle(filename string) string {
	start := strings.Index(filename, "[")
	if start < 0 {
		return ""
	}
	end := strings.Index(filename[start:], "]")
	if end < 0 {
		return ""
	}
	return filename[start+1 : start+end]
}
