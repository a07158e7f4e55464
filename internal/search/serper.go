package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Serper implements the Provider interface for the Serper Google search API.
type Serper struct {
	apiKey     string
	httpClient *http.Client
}

// NewSerper creates a Serper search provider.
func NewSerper(apiKey string) *Serper {
	return &Serper{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *Serper) Name() string { return "serper" }

// serperResponse is the JSON response from Serper's search endpoint.
// The knowledge graph, when present, is surfaced as the first result.
type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
	KnowledgeGraph struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Website     string `json:"website"`
	} `json:"knowledgeGraph"`
}

func (s *Serper) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count == 0 {
		count = 5
	}

	payload := map[string]any{
		"q":   query,
		"num": count,
	}
	if opts.Language != "" {
		payload["hl"] = opts.Language
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serper: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://google.serper.dev/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("serper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("serper: HTTP %d: %s", resp.StatusCode, string(msg))
	}

	var sr serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("serper: decode response: %w", err)
	}

	results := make([]Result, 0, len(sr.Organic)+1)
	if sr.KnowledgeGraph.Title != "" && sr.KnowledgeGraph.Description != "" {
		results = append(results, Result{
			Title:   sr.KnowledgeGraph.Title,
			URL:     sr.KnowledgeGraph.Website,
			Snippet: sr.KnowledgeGraph.Description,
		})
	}
	for _, r := range sr.Organic {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
		})
	}

	return results, nil
}
