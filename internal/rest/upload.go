package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// File is one file part of a multipart upload.
type File struct {
	Field       string
	Name        string
	ContentType string
	Content     io.Reader
}

type uploadFile struct {
	field       string
	name        string
	contentType string
	data        []byte
}

// Upload POSTs fields and files as multipart/form-data using the upload timeout. File
// contents are read up front so the request can be replayed after a session refresh.
func (c *Client) Upload(ctx context.Context, path string, fields map[string]string, files []File, out any) error {
	cl := call{
		method:  http.MethodPost,
		path:    path,
		form:    fields,
		files:   make([]uploadFile, 0, len(files)),
		timeout: c.uploadTimeout,
	}
	if cl.form == nil {
		cl.form = map[string]string{}
	}
	for _, f := range files {
		data, err := io.ReadAll(f.Content)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		ct := f.ContentType
		if ct == "" {
			ct = http.DetectContentType(data)
		}
		cl.files = append(cl.files, uploadFile{field: f.Field, name: f.Name, contentType: ct, data: data})
	}
	return c.do(ctx, cl, out)
}
