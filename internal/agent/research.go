package agent

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/fetch"
	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/prompts"
	"github.com/castellanhq/castellan/internal/search"
	"github.com/castellanhq/castellan/internal/store"
)

// fetchMaxChars bounds how much of the top result's page is injected.
const fetchMaxChars = 4000

// Research answers questions using live web search results. When search is
// unavailable or empty, the model is told explicitly to answer from general
// knowledge so the response can distinguish grounded from ungrounded answers.
type Research struct {
	base
	search   *search.Manager
	fetcher  *fetch.Fetcher
	fetchTop bool
}

// NewResearch creates the web research agent. searchMgr may be nil or
// unconfigured; fetcher may be nil to skip full-page retrieval.
func NewResearch(client llm.Client, st *store.Store, asm *Assembler, logger *slog.Logger, searchMgr *search.Manager, fetcher *fetch.Fetcher, fetchTop bool) *Research {
	return &Research{
		base: base{
			tag:       TagResearch,
			system:    prompts.ResearchSystem(),
			llm:       client,
			store:     st,
			assembler: asm,
			logger:    logger,
		},
		search:   searchMgr,
		fetcher:  fetcher,
		fetchTop: fetchTop,
	}
}

func (r *Research) Process(ctx context.Context, userID uuid.UUID, message string) (string, error) {
	return r.handle(ctx, userID, message, nil)
}

func (r *Research) ProcessStream(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	return r.handle(ctx, userID, message, onToken)
}

func (r *Research) handle(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	extra, performed := r.searchContext(ctx, message)
	msgs := r.messages(userID, message, extra)
	metadata := map[string]any{"search_performed": performed}

	if onToken == nil {
		return r.respond(ctx, userID, message, msgs, metadata)
	}
	return r.respondStream(ctx, userID, message, msgs, metadata, onToken)
}

// searchContext runs the web search side call and returns the context block
// plus whether any results grounded it. Search failures degrade to the
// general-knowledge instruction rather than failing the turn.
func (r *Research) searchContext(ctx context.Context, message string) (string, bool) {
	if r.search == nil || !r.search.Configured() {
		return ungroundedNote, false
	}

	results, err := r.search.Search(ctx, message, search.Options{Count: 5})
	if err != nil {
		r.logger.Warn("web search failed", "error", err)
		return ungroundedNote, false
	}
	if len(results) == 0 {
		return ungroundedNote, false
	}

	extra := "Web search results:\n" + search.FormatResults(results, 5)

	if r.fetcher != nil && r.fetchTop && results[0].URL != "" {
		if page, err := r.fetcher.Fetch(ctx, results[0].URL, fetchMaxChars); err == nil && page.Content != "" {
			extra += "\n\nTop result content (" + page.URL + "):\n" + page.Content
		} else if err != nil {
			r.logger.Debug("top result fetch failed", "url", results[0].URL, "error", err)
		}
	}

	return extra, true
}

const ungroundedNote = "No search results available. Answer from your general knowledge and state clearly that you are doing so."
