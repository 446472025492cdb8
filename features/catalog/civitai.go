package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sagan/genmeta/constants"
	"github.com/sagan/genmeta/util"
)

const (
	civitaiBaseBackoff = time.Second
	civitaiMaxBackoff  = 30 * time.Second
)

// CivitaiClient looks up model versions via Civitai public REST API:
// GET {BaseUrl}/api/v1/model-versions/{id} .
type CivitaiClient struct {
	BaseUrl    string // E.g. "https://civitai.com"
	ApiKey     string // Optional
	HttpClient *http.Client
	MaxTries   int
	// Wait before the n-th retry is BaseBackoff * 2^(n-1), capped at 30s.
	BaseBackoff time.Duration
}

func NewCivitaiClient(baseUrl string, apiKey string, timeout time.Duration) *CivitaiClient {
	return &CivitaiClient{
		BaseUrl:     baseUrl,
		ApiKey:      apiKey,
		HttpClient:  &http.Client{Timeout: timeout},
		MaxTries:    constants.CATALOG_MAX_TRIES,
		BaseBackoff: civitaiBaseBackoff,
	}
}

type modelVersionResponse struct {
	Id    int64  `json:"id"`
	Name  string `json:"name"`
	Model *struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"model"`
	Files *[]FileDescriptor `json:"files"`
}

// Errors that are worth another try.
type temporaryError struct {
	err error
}

func (e *temporaryError) Error() string {
	return e.err.Error()
}

func (e *temporaryError) Unwrap() error {
	return e.err
}

func (c *CivitaiClient) LookupModelVersion(ctx context.Context, versionId int64) (info *ModelInfo, err error) {
	url := fmt.Sprintf("%s/api/v1/model-versions/%d", c.BaseUrl, versionId)
	maxTries := max(c.MaxTries, 1)
	for tries := range maxTries {
		if tries > 0 {
			wait := util.CalculateBackoff(c.BaseBackoff, civitaiMaxBackoff, tries-1)
			log.Debugf("retry %s in %v (last error: %v)", url, wait, err)
			if err := sleepContext(ctx, wait); err != nil {
				return nil, err
			}
		}
		info, err = c.fetch(ctx, url)
		if err == nil {
			return info, nil
		}
		var tempErr *temporaryError
		if !errors.As(err, &tempErr) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("too many failures, last error: %w", err)
}

func (c *CivitaiClient) fetch(ctx context.Context, url string) (*ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	}
	httpClient := c.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &temporaryError{err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &temporaryError{fmt.Errorf("%s: http status %d", url, resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: http status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &temporaryError{err}
	}
	data, err := util.UnmarshalJson[modelVersionResponse](body)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed response: %w", url, err)
	}
	if data.Model == nil || data.Model.Name == "" || data.Model.Type == "" || data.Files == nil {
		return nil, fmt.Errorf("%s: response misses required model info", url)
	}
	return &ModelInfo{
		ResourceType:     data.Model.Type,
		ModelName:        data.Model.Name,
		ModelVersionName: data.Name,
		Files:            *data.Files,
	}, nil
}
