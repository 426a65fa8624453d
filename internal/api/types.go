package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// File is a file record as returned by the API. The client interprets only
// what the CLI renders; Raw keeps the exact JSON for pass-through output.
type File struct {
	ID         string
	Name       string
	Type       string // MIME type
	Size       string // server-formatted, e.g. "1.2 MB"
	UploadDate string // server-formatted relative time, e.g. "5 minutes ago"
	Thumbnail  string
	IsDeleted  bool

	Raw json.RawMessage
}

// fileWire mirrors the serializer output. id and size arrive as strings from
// the current backend but older builds sent numbers.
type fileWire struct {
	ID         flexString `json:"id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Size       flexString `json:"size"`
	UploadDate string     `json:"uploadDate"`
	Thumbnail  *string    `json:"thumbnail"`
	IsDeleted  bool       `json:"is_deleted"`
}

func (f *File) UnmarshalJSON(data []byte) error {
	var w fileWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*f = File{
		ID:         string(w.ID),
		Name:       w.Name,
		Type:       w.Type,
		Size:       string(w.Size),
		UploadDate: w.UploadDate,
		IsDeleted:  w.IsDeleted,
		Raw:        append(json.RawMessage(nil), data...),
	}

	if w.Thumbnail != nil {
		f.Thumbnail = *w.Thumbnail
	}

	return nil
}

// MarshalJSON emits the record exactly as the server sent it. Records built
// in code (no Raw) are encoded from their fields.
func (f File) MarshalJSON() ([]byte, error) {
	if len(f.Raw) > 0 {
		return f.Raw, nil
	}

	w := fileWire{
		ID:         flexString(f.ID),
		Name:       f.Name,
		Type:       f.Type,
		Size:       flexString(f.Size),
		UploadDate: f.UploadDate,
		IsDeleted:  f.IsDeleted,
	}

	if f.Thumbnail != "" {
		w.Thumbnail = &f.Thumbnail
	}

	return json.Marshal(w)
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}

		*s = flexString(v)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}

		*s = flexString(n.String())
	}

	return nil
}

func (s flexString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Preview holds a viewable URL for a file. The URL is usually presigned and
// must not be logged.
type Preview struct {
	URL string `json:"url"`
}

// Message is the acknowledgement body some operations return.
type Message struct {
	Message string `json:"message"`
}

// PreviewEligible reports whether the server will produce a preview for the
// given MIME type: images and PDFs only.
func PreviewEligible(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))

	return strings.HasPrefix(mime, "image/") || mime == "application/pdf"
}
