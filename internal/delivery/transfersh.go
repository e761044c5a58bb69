package delivery

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"resty.dev/v3"
)

const transferShBaseURL = "https://transfer.sh"

// TransferSh uploads via raw PUT; the response body is the link itself.
type TransferSh struct {
	client  *resty.Client
	baseURL string
}

func NewTransferSh(timeout time.Duration) *TransferSh {
	return &TransferSh{
		client:  resty.New().SetTimeout(timeout),
		baseURL: transferShBaseURL,
	}
}

func (t *TransferSh) Name() string { return "Transfer.sh" }

func (t *TransferSh) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("transfer.sh upload: %w", err)
	}
	defer f.Close()

	target := t.baseURL + "/" + url.PathEscape(filepath.Base(path))
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(f).
		Put(target)
	if err != nil {
		return "", fmt.Errorf("transfer.sh upload: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("transfer.sh upload: status %d", resp.StatusCode())
	}

	link := strings.TrimSpace(resp.String())
	if link == "" {
		return "", fmt.Errorf("transfer.sh upload: empty response body")
	}
	return link, nil
}
