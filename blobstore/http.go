package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPStore implements Store against a plain HTTP endpoint using GET
// and PUT. Listing requires server support and is unavailable here, so
// HTTP endpoints cannot host merge sources.
type HTTPStore struct {
	base   string
	client *http.Client
}

// NewHTTPStore creates an HTTPStore for the given base URL. A nil
// client uses http.DefaultClient.
func NewHTTPStore(base string, client *http.Client) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{base: strings.TrimRight(base, "/"), client: client}
}

func (s *HTTPStore) url(name string) string {
	return s.base + "/" + url.PathEscape(name)
}

// Get reads the full object.
func (s *HTTPStore) Get(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("http get %s: status %d", name, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Put writes the full object.
func (s *HTTPStore) Put(ctx context.Context, name string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url(name), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http put %s: status %d", name, resp.StatusCode)
	}
	return nil
}

// Delete removes an object.
func (s *HTTPStore) Delete(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.url(name), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("http delete %s: status %d", name, resp.StatusCode)
	}
	return nil
}

// List is unsupported over plain HTTP.
func (s *HTTPStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, fmt.Errorf("http store: listing not supported")
}
