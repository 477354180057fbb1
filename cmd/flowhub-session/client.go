package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stuartw843/flow-learning-hub/internal/module"
)

// apiClient talks to the hub server's module API. It satisfies
// transcript.Persister so debounced transcript writes flow back through
// the hub rather than straight to the database.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: http.DefaultClient,
	}
}

// GetModule fetches one module by ID.
func (c *apiClient) GetModule(ctx context.Context, id int64) (module.Module, error) {
	url := fmt.Sprintf("%s/api/modules/%d", c.base, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return module.Module{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return module.Module{}, fmt.Errorf("fetch module: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return module.Module{}, module.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return module.Module{}, fmt.Errorf("fetch module: %s", resp.Status)
	}

	var m module.Module
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return module.Module{}, fmt.Errorf("decode module: %w", err)
	}
	return m, nil
}

// UpdatePlainContent overwrites the plain-text context of one module.
func (c *apiClient) UpdatePlainContent(ctx context.Context, id int64, plain string) error {
	body, err := json.Marshal(map[string]string{"plain_content": plain})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/modules/%d/plain", c.base, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("persist transcript: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))

	if resp.StatusCode == http.StatusNotFound {
		return module.ErrNotFound
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("persist transcript: %s", resp.Status)
	}
	return nil
}
