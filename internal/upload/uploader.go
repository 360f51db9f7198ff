package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// Fixed locations in the remote drive tree. The application node is the
// root addressable location reserved for this application's files; notes
// live directly in the notebook folder and PDFs one level below.
const (
	appNode      = "iCloud.md.obsidian"
	ownerFolder  = "james"
	noteFolder   = "rocketbook"
	pdfSubfolder = "pdfs"
)

// Uploader binds a drive client to the fixed notebook folder hierarchy.
type Uploader struct {
	client *Client
}

// NewUploader creates an Uploader on top of an authenticated drive client.
func NewUploader(client *Client) *Uploader {
	return &Uploader{client: client}
}

// NotesFolder returns the drive path of the markdown note folder.
func (u *Uploader) NotesFolder() string {
	return path.Join(appNode, ownerFolder, noteFolder)
}

// PDFFolder returns the drive path of the PDF subfolder.
func (u *Uploader) PDFFolder() string {
	return path.Join(appNode, ownerFolder, noteFolder, pdfSubfolder)
}

// UploadPDF pushes a local PDF into the PDF subfolder.
func (u *Uploader) UploadPDF(ctx context.Context, localFile string) error {
	return u.uploadFile(ctx, localFile, u.PDFFolder())
}

// UploadNote pushes a local markdown note into the note folder.
func (u *Uploader) UploadNote(ctx context.Context, localFile string) error {
	return u.uploadFile(ctx, localFile, u.NotesFolder())
}

func (u *Uploader) uploadFile(ctx context.Context, localFile, folder string) error {
	content, err := os.ReadFile(localFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", localFile, err)
	}

	name := filepath.Base(localFile)
	if err := u.client.Upload(ctx, folder, name, content); err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}

	return nil
}
