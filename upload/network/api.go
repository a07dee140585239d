package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

type createBatchRequest struct {
	TargetName      string `json:"target_name"`
	Folder          string `json:"folder"`
	FileSizeInBytes int64  `json:"file_size_in_bytes"`
	ChunkSizeBytes  int64  `json:"chunk_size_bytes"`
	ChunkCount      int    `json:"chunk_count"`
	ContentType     string `json:"content_type"`
}

type createBatchResponse struct {
	ID string `json:"id"`
}

type chunkResponse struct {
	ChunkRef string `json:"chunk_ref"`
}

type finalizeRequest struct {
	TotalChunks int    `json:"total_chunks"`
	TargetName  string `json:"target_name"`
	Folder      string `json:"folder"`
}

type resourceResponse struct {
	URL string `json:"url"`
}

// APIClient is a Client backed by the storage service's HTTP API.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewAPIClient creates a boundary client for the given service URL.
func NewAPIClient(baseURL string, accessToken string, logger log.Logger) *APIClient {
	client := retryhttp.NewClient(logger)
	// The retry policy owns the attempt budget; a second retry layer here
	// would make the observed attempt counts meaningless.
	client.RetryMax = 0

	return &APIClient{
		httpClient:  client,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

// CreateBatch implements Client.
func (c *APIClient) CreateBatch(ctx context.Context, info BatchInfo) (string, error) {
	reqURL := fmt.Sprintf("%s/uploads", c.baseURL)

	body, err := json.Marshal(createBatchRequest{
		TargetName:      info.TargetName,
		Folder:          info.Folder,
		FileSizeInBytes: info.FileSize,
		ChunkSizeBytes:  info.ChunkSize,
		ChunkCount:      info.ChunkCount,
		ContentType:     info.ContentType,
	})
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return "", unwrapError(resp, false)
	}

	var response createBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", fmt.Errorf("no batch ID in response")
	}
	return response.ID, nil
}

// UploadChunk implements Client.
func (c *APIClient) UploadChunk(ctx context.Context, info ChunkInfo, body io.ReadSeeker) (string, error) {
	reqURL := fmt.Sprintf("%s/uploads/%s/chunks/%d?total_chunks=%d&folder=%s",
		c.baseURL, url.PathEscape(info.BatchID), info.Index, info.TotalChunks, url.QueryEscape(info.Folder))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, reqURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/octet-stream")

	// Content-Length is not set automatically for seekable bodies.
	req.Header.Set("Content-Length", fmt.Sprintf("%d", info.Size))
	req.ContentLength = info.Size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", unwrapError(resp, false)
	}

	var response chunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", err
	}
	if response.ChunkRef == "" {
		return "", fmt.Errorf("no chunk reference in response")
	}
	return response.ChunkRef, nil
}

// UploadWhole implements Client.
func (c *APIClient) UploadWhole(ctx context.Context, info ObjectInfo, body io.ReadSeeker) (string, error) {
	reqURL := fmt.Sprintf("%s/objects/%s?folder=%s",
		c.baseURL, url.PathEscape(info.Name), url.QueryEscape(info.Folder))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, reqURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Length", fmt.Sprintf("%d", info.Size))
	req.ContentLength = info.Size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", unwrapError(resp, false)
	}

	var response resourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", err
	}
	if response.URL == "" {
		return "", fmt.Errorf("no resource URL in response")
	}
	return response.URL, nil
}

// FinalizeBatch implements Client.
func (c *APIClient) FinalizeBatch(ctx context.Context, info FinalizeInfo) (string, error) {
	reqURL := fmt.Sprintf("%s/uploads/%s/finalize", c.baseURL, url.PathEscape(info.BatchID))

	body, err := json.Marshal(finalizeRequest{
		TotalChunks: info.TotalChunks,
		TargetName:  info.TargetName,
		Folder:      info.Folder,
	})
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", unwrapError(resp, true)
	}

	var response resourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", err
	}
	if response.URL == "" {
		return "", fmt.Errorf("no resource URL in finalize response")
	}
	return response.URL, nil
}

func (c *APIClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}
