package delivery

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

const fileioUploadURL = "https://file.io/?expires=1d"

type fileioResponse struct {
	Success bool   `json:"success"`
	Link    string `json:"link"`
}

// FileIO uploads to file.io via multipart POST. Links expire after a day.
type FileIO struct {
	client    *resty.Client
	uploadURL string
}

func NewFileIO(timeout time.Duration) *FileIO {
	return &FileIO{
		client:    resty.New().SetTimeout(timeout),
		uploadURL: fileioUploadURL,
	}
}

func (f *FileIO) Name() string { return "File.io" }

func (f *FileIO) Upload(ctx context.Context, path string) (string, error) {
	var result fileioResponse

	resp, err := f.client.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&result).
		Post(f.uploadURL)
	if err != nil {
		return "", fmt.Errorf("file.io upload: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("file.io upload: status %d", resp.StatusCode())
	}
	if !result.Success || result.Link == "" {
		return "", fmt.Errorf("file.io upload: response did not contain a link")
	}
	return result.Link, nil
}
