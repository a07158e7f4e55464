package search

import (
	"context"
	"strings"
	"testing"
	"time"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	name    string
	results []Result
	err     error
	calls   int
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	m.calls++
	return m.results, m.err
}

func TestManagerSearch(t *testing.T) {
	mgr := NewManager("mock")
	mgr.Register(&mockProvider{
		name: "mock",
		results: []Result{
			{Title: "Test", URL: "https://example.com", Snippet: "A test result"},
		},
	})

	results, err := mgr.Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Test" {
		t.Errorf("expected title 'Test', got %q", results[0].Title)
	}
}

func TestManagerSearchWith(t *testing.T) {
	mgr := NewManager("primary")
	mgr.Register(&mockProvider{name: "primary", results: []Result{{Title: "Primary"}}})
	mgr.Register(&mockProvider{name: "secondary", results: []Result{{Title: "Secondary"}}})

	results, err := mgr.SearchWith(context.Background(), "secondary", "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Title != "Secondary" {
		t.Errorf("expected 'Secondary', got %q", results[0].Title)
	}
}

func TestManagerUnconfigured(t *testing.T) {
	mgr := NewManager("missing")
	_, err := mgr.Search(context.Background(), "test", Options{})
	if err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		{Title: "First", URL: "https://a.com", Snippet: "Snippet A"},
		{Title: "Second", URL: "https://b.com"},
	}
	out := FormatResults(results, 2)
	if !strings.Contains(out, "1. First") || !strings.Contains(out, "2. Second") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestFormatResultsEmpty(t *testing.T) {
	out := FormatResults(nil, 0)
	if out != "No results found." {
		t.Errorf("expected 'No results found.', got %q", out)
	}
}

func TestCachedAvoidsSecondCall(t *testing.T) {
	inner := &mockProvider{name: "mock", results: []Result{{Title: "Hit", URL: "https://a.com"}}}
	cached, err := NewCached(inner, time.Minute)
	if err != nil {
		t.Fatalf("new cached: %v", err)
	}

	if _, err := cached.Search(context.Background(), "go", Options{}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	cached.Wait()

	results, err := cached.Search(context.Background(), "go", Options{})
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if results[0].Title != "Hit" {
		t.Errorf("unexpected result: %+v", results)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.calls)
	}
}

func TestCachedDistinctOptionsMiss(t *testing.T) {
	inner := &mockProvider{name: "mock", results: []Result{{Title: "R"}}}
	cached, err := NewCached(inner, time.Minute)
	if err != nil {
		t.Fatalf("new cached: %v", err)
	}

	cached.Search(context.Background(), "go", Options{Count: 3})
	cached.Wait()
	cached.Search(context.Background(), "go", Options{Count: 5})

	if inner.calls != 2 {
		t.Errorf("expected 2 provider calls, got %d", inner.calls)
	}
}
