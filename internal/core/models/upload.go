package models

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Upload is a file attached to an instant-analysis query
type Upload struct {
	Name         string
	Type         string // MIME type
	Size         int64
	LastModified time.Time
	Data         []byte
}

// ReadUpload loads a file from disk
func ReadUpload(path string) (*Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Upload{
		Name:         filepath.Base(path),
		Type:         contentType,
		Size:         int64(len(data)),
		LastModified: info.ModTime(),
		Data:         data,
	}, nil
}
