package delivery

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

const gofileUploadURL = "https://store1.gofile.io/uploadFile"

type gofileResponse struct {
	Status string `json:"status"`
	Data   struct {
		DownloadPage string `json:"downloadPage"`
	} `json:"data"`
}

// GoFile uploads to gofile.io via multipart POST.
type GoFile struct {
	client    *resty.Client
	uploadURL string
}

func NewGoFile(timeout time.Duration) *GoFile {
	return &GoFile{
		client:    resty.New().SetTimeout(timeout),
		uploadURL: gofileUploadURL,
	}
}

func (g *GoFile) Name() string { return "GoFile" }

func (g *GoFile) Upload(ctx context.Context, path string) (string, error) {
	var result gofileResponse

	resp, err := g.client.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&result).
		Post(g.uploadURL)
	if err != nil {
		return "", fmt.Errorf("gofile upload: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("gofile upload: status %d", resp.StatusCode())
	}
	if result.Status != "ok" || result.Data.DownloadPage == "" {
		return "", fmt.Errorf("gofile upload: unexpected response status %q", result.Status)
	}
	return result.Data.DownloadPage, nil
}
