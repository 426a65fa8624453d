package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"
)

const (
	filesPath      = "/files/"
	trashPath      = "/files/trash/"
	emptyTrashPath = "/files/empty_trash/"
)

// Client performs the file operations. Every call goes through the Gateway
// and is subject to its single refresh-and-retry policy; nothing here
// retries on its own.
type Client struct {
	gw     *Gateway
	logger *slog.Logger
}

// NewClient creates a Client issuing requests through gw.
func NewClient(gw *Gateway, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{gw: gw, logger: logger}
}

// ListFiles returns the active (non-trashed) files.
func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	var files []File
	if err := c.call(ctx, &Request{Method: http.MethodGet, Path: filesPath}, &files); err != nil {
		return nil, err
	}

	c.logger.Debug("listed files", slog.Int("count", len(files)))

	return files, nil
}

// ListTrash returns the soft-deleted files.
func (c *Client) ListTrash(ctx context.Context) ([]File, error) {
	var files []File
	if err := c.call(ctx, &Request{Method: http.MethodGet, Path: trashPath}, &files); err != nil {
		return nil, err
	}

	c.logger.Debug("listed trash", slog.Int("count", len(files)))

	return files, nil
}

// Upload sends r as a multipart upload named name. r is rewound before each
// attempt, so a refresh-and-retry resends the whole content.
func (c *Client) Upload(ctx context.Context, name string, r io.ReadSeeker) (*File, error) {
	body, err := newMultipartBody(name, r)
	if err != nil {
		return nil, err
	}
	defer body.release()

	c.logger.Info("uploading file",
		slog.String("name", body.name),
		slog.String("content_type", body.partType),
	)

	var f File

	req := &Request{Method: http.MethodPost, Path: filesPath, Body: body.next, IsFileUpload: true}
	if err := c.call(ctx, req, &f); err != nil {
		return nil, err
	}

	return &f, nil
}

// UploadFile uploads the local file at path under its base name.
func (c *Client) UploadFile(ctx context.Context, path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("api: opening %s: %w", path, err)
	}
	defer fh.Close()

	return c.Upload(ctx, filepath.Base(path), fh)
}

// Preview returns a viewable URL for file id. The server answers 400 for
// types it cannot preview; see PreviewEligible.
func (c *Client) Preview(ctx context.Context, id string) (*Preview, error) {
	var p Preview
	if err := c.call(ctx, &Request{Method: http.MethodGet, Path: itemPath(id, "preview/")}, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

// DownloadInfo describes a completed download.
type DownloadInfo struct {
	Name        string // from Content-Disposition, "" when absent
	ContentType string
	Size        int64 // bytes written
}

// Download streams the content of file id into w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (*DownloadInfo, error) {
	resp, err := c.gw.Do(ctx, &Request{Method: http.MethodGet, Path: itemPath(id, "download/")})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		c.logger.Error("download interrupted",
			slog.String("id", id),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)

		return nil, transportError("reading download", err)
	}

	info := &DownloadInfo{
		Name:        attachmentName(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        n,
	}

	c.logger.Debug("download complete", slog.String("id", id), slog.Int64("bytes", n))

	return info, nil
}

type softDeleteRequest struct {
	IsDeleted bool `json:"is_deleted"`
}

// Delete moves file id to the trash and returns the updated record.
func (c *Client) Delete(ctx context.Context, id string) (*File, error) {
	body, err := JSONBody(softDeleteRequest{IsDeleted: true})
	if err != nil {
		return nil, err
	}

	var f File
	if err := c.call(ctx, &Request{Method: http.MethodPatch, Path: itemPath(id, ""), Body: body}, &f); err != nil {
		return nil, err
	}

	return &f, nil
}

// Restore takes file id out of the trash and returns the updated record.
func (c *Client) Restore(ctx context.Context, id string) (*File, error) {
	var f File
	if err := c.call(ctx, &Request{Method: http.MethodPatch, Path: itemPath(id, "restore/")}, &f); err != nil {
		return nil, err
	}

	return &f, nil
}

// PermanentDelete irreversibly removes file id and its stored content.
func (c *Client) PermanentDelete(ctx context.Context, id string) error {
	return c.call(ctx, &Request{Method: http.MethodDelete, Path: itemPath(id, "permanent_delete/")}, nil)
}

// EmptyTrash permanently removes every trashed file.
func (c *Client) EmptyTrash(ctx context.Context) (*Message, error) {
	var m Message
	if err := c.call(ctx, &Request{Method: http.MethodDelete, Path: emptyTrashPath}, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// call runs req through the gateway and decodes the JSON response into out.
// out may be nil when the body is ignored.
func (c *Client) call(ctx context.Context, req *Request, out any) error {
	resp, err := c.gw.Do(ctx, req)
	if err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		return nil
	}

	if err := decodeJSON(resp, out); err != nil {
		c.logger.Error("decoding response failed",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)

		return err
	}

	return nil
}

// decodeJSON reads and closes resp.Body, decoding it into out. An empty body
// (204 No Content) leaves out untouched.
func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError("reading response", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return transportError("decoding response", err)
	}

	return nil
}

// itemPath builds /files/{id}/{suffix}. The id is escaped but otherwise
// passed through unvalidated.
func itemPath(id, suffix string) string {
	return filesPath + url.PathEscape(id) + "/" + suffix
}

// attachmentName extracts the filename parameter of a Content-Disposition
// header, reduced to a base name.
func attachmentName(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	name := filepath.Base(params["filename"])
	if name == "." || name == "/" || name == ".." {
		return ""
	}

	return name
}

var errBodyReplaced = errors.New("api: upload body replaced by retry")

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody streams a file upload through a pipe. Each call to next
// starts a fresh encoding from the beginning of src, after stopping the
// previous writer.
type multipartBody struct {
	name     string // NFC-normalized
	partType string // sniffed content type of the file part
	src      io.ReadSeeker
	size     int64 // bytes of src sent in the file part

	pr   *io.PipeReader
	done chan struct{}
}

func newMultipartBody(name string, src io.ReadSeeker) (*multipartBody, error) {
	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, fmt.Errorf("api: sniffing content type of %s: %w", name, err)
	}

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("api: sizing %s: %w", name, err)
	}

	return &multipartBody{
		name:     norm.NFC.String(name),
		partType: mt.String(),
		src:      src,
		size:     size,
	}, nil
}

// next is the BodyFunc for the upload request.
func (m *multipartBody) next() (io.Reader, string, int64, error) {
	m.release()

	if _, err := m.src.Seek(0, io.SeekStart); err != nil {
		return nil, "", 0, fmt.Errorf("rewinding %s: %w", m.name, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	contentType := mw.FormDataContentType()

	framing, err := m.framingSize(mw.Boundary())
	if err != nil {
		return nil, "", 0, err
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		pw.CloseWithError(m.encode(mw, io.LimitReader(m.src, m.size)))
	}()

	m.pr, m.done = pr, done

	return pr, contentType, framing + m.size, nil
}

// framingSize returns the encoded size of everything except the file
// content: part headers, the name field and the closing boundary.
func (m *multipartBody) framingSize(boundary string) (int64, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, fmt.Errorf("api: multipart boundary: %w", err)
	}

	if err := m.encode(mw, strings.NewReader("")); err != nil {
		return 0, fmt.Errorf("api: measuring upload of %s: %w", m.name, err)
	}

	return int64(buf.Len()), nil
}

// release stops an in-progress encoding and waits for its goroutine, so the
// source is never read by two writers at once.
func (m *multipartBody) release() {
	if m.pr == nil {
		return
	}

	m.pr.CloseWithError(errBodyReplaced)
	<-m.done
	m.pr, m.done = nil, nil
}

// encode writes the form fields in the order the backend expects: the file
// part, then its display name.
func (m *multipartBody) encode(mw *multipart.Writer, content io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(m.name)))
	h.Set("Content-Type", m.partType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, content); err != nil {
		return err
	}

	if err := mw.WriteField("name", m.name); err != nil {
		return err
	}

	return mw.Close()
}
