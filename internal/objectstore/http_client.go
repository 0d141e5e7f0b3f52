package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodyBytes  = 1 << 20
)

type Option func(*HTTPClient)

// HTTPClient talks to an upload endpoint that accepts a multipart file and
// answers with the stored object's metadata.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func (c *HTTPClient) Upload(ctx context.Context, data []byte, folder string) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("upload data is empty")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "frame")
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, fmt.Errorf("write upload form: %w", err)
	}
	if folder = strings.TrimSpace(folder); folder != "" {
		if err := writer.WriteField("folder", folder); err != nil {
			return UploadResult{}, fmt.Errorf("write upload folder field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("post upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errorBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if readErr != nil {
			return UploadResult{}, fmt.Errorf("upload status=%d read body: %w", resp.StatusCode, readErr)
		}
		return UploadResult{}, fmt.Errorf("upload status=%d body=%q", resp.StatusCode, string(errorBody))
	}

	var result UploadResult
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&result); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	if strings.TrimSpace(result.SecureURL) == "" || strings.TrimSpace(result.PublicID) == "" {
		return UploadResult{}, fmt.Errorf("upload response missing secure_url or public_id")
	}
	return result, nil
}
