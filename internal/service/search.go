package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// snippetContext is the rune window kept on each side of the first match.
const snippetContext = 60

// statusKeywordLimit caps the status-keyword query shape.
const statusKeywordLimit = 100

// SearchService is the unified full-text layer over tasks and events.
type SearchService struct {
	store storage.Store
}

func NewSearchService(store storage.Store) *SearchService {
	return &SearchService{store: store}
}

// SearchInput selects what to search and how much to return.
type SearchInput struct {
	Query         string
	IncludeTasks  bool
	IncludeEvents bool
	Limit         int
	Offset        int
}

// Search dispatches on query shape: "#<id>" lookup, status keywords, then
// full text (trigram FTS with a substring fallback for queries too short
// for the tokenizer). Results merge task and event hits by score.
func (s *SearchService) Search(ctx context.Context, in SearchInput) (*types.SearchPage, error) {
	query := strings.TrimSpace(in.Query)
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}

	page := &types.SearchPage{Results: []*types.SearchResult{}, Limit: limit, Offset: offset}
	if query == "" {
		return page, nil
	}

	// "#<digits>" is a direct id lookup; a miss falls through to full text.
	if id, ok := parseIDQuery(query); ok {
		task, err := s.store.GetTask(ctx, id)
		if err == nil {
			page.Results = append(page.Results, taskResult(task, "name", task.Name, 1.0))
			page.TotalTasks = 1
			return page, nil
		}
		if !types.IsCode(err, types.CodeTaskNotFound) {
			return nil, err
		}
	}

	// A query made only of status keywords lists those statuses.
	if statuses, ok := parseStatusQuery(query); ok {
		tasks, err := s.store.TasksByStatuses(ctx, statuses, statusKeywordLimit)
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			page.Results = append(page.Results, taskResult(task, "name", task.Name, 1.0))
		}
		page.TotalTasks = len(tasks)
		return page, nil
	}

	if !isSearchable(query) {
		return page, nil
	}
	like := needsFallback(query)

	// Over-fetch so the merged, score-sorted page can honor the offset.
	fetch := limit + offset

	var results []*types.SearchResult
	if in.IncludeTasks {
		hits, total, err := s.store.SearchTasks(ctx, query, like, fetch, 0)
		if err != nil {
			return nil, err
		}
		page.TotalTasks = total
		for _, hit := range hits {
			field, source := matchedTaskField(hit.Task, query)
			results = append(results, taskResult(hit.Task, field, buildSnippet(source, query), hit.Score))
		}
	}
	if in.IncludeEvents {
		hits, total, err := s.store.SearchEvents(ctx, query, like, fetch, 0)
		if err != nil {
			return nil, err
		}
		page.TotalEvents = total
		eventResults, err := s.eventResults(ctx, hits, query)
		if err != nil {
			return nil, err
		}
		results = append(results, eventResults...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].TaskID < results[j].TaskID
	})

	if offset < len(results) {
		end := offset + limit
		if end > len(results) {
			end = len(results)
		}
		page.Results = results[offset:end]
	}
	page.HasMore = offset+len(page.Results) < page.TotalTasks+page.TotalEvents
	return page, nil
}

// eventResults decorates event hits with the owning task's name, status,
// and ancestry chain, fetched in batch (no per-event round-trips).
func (s *SearchService) eventResults(ctx context.Context, hits []*storage.EventHit, query string) ([]*types.SearchResult, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	taskIDs := make([]int64, 0, len(hits))
	seen := map[int64]bool{}
	for _, hit := range hits {
		if !seen[hit.Event.TaskID] {
			seen[hit.Event.TaskID] = true
			taskIDs = append(taskIDs, hit.Event.TaskID)
		}
	}

	tasks, err := s.store.GetTasks(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	chains, err := s.store.AncestryBatch(ctx, taskIDs)
	if err != nil {
		return nil, err
	}

	results := make([]*types.SearchResult, 0, len(hits))
	for _, hit := range hits {
		task := tasks[hit.Event.TaskID]
		if task == nil {
			continue
		}
		eventID := hit.Event.ID
		ts := hit.Event.Timestamp
		results = append(results, &types.SearchResult{
			Type:      types.ResultEvent,
			TaskID:    task.ID,
			EventID:   &eventID,
			Name:      task.Name,
			Status:    task.Status,
			Field:     "discussion_data",
			Snippet:   buildSnippet(hit.Event.DiscussionData, query),
			Score:     hit.Score,
			LogType:   hit.Event.LogType,
			Timestamp: &ts,
			Ancestry:  chains[task.ID],
		})
	}
	return results, nil
}

func taskResult(task *types.Task, field, snippet string, score float64) *types.SearchResult {
	return &types.SearchResult{
		Type:    types.ResultTask,
		TaskID:  task.ID,
		Name:    task.Name,
		Status:  task.Status,
		Field:   field,
		Snippet: snippet,
		Score:   score,
	}
}

func parseIDQuery(query string) (int64, bool) {
	if !strings.HasPrefix(query, "#") {
		return 0, false
	}
	id, err := strconv.ParseInt(query[1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseStatusQuery matches queries consisting only of space-separated
// status keywords, case-insensitively. "active" is shorthand for
// todo+doing.
func parseStatusQuery(query string) ([]types.TaskStatus, bool) {
	var statuses []types.TaskStatus
	seen := map[types.TaskStatus]bool{}
	for _, token := range strings.Fields(query) {
		switch strings.ToLower(token) {
		case "todo":
			statuses = appendStatus(statuses, seen, types.StatusTodo)
		case "doing":
			statuses = appendStatus(statuses, seen, types.StatusDoing)
		case "done":
			statuses = appendStatus(statuses, seen, types.StatusDone)
		case "active":
			statuses = appendStatus(statuses, seen, types.StatusTodo)
			statuses = appendStatus(statuses, seen, types.StatusDoing)
		default:
			return nil, false
		}
	}
	return statuses, len(statuses) > 0
}

func appendStatus(statuses []types.TaskStatus, seen map[types.TaskStatus]bool, status types.TaskStatus) []types.TaskStatus {
	if seen[status] {
		return statuses
	}
	seen[status] = true
	return append(statuses, status)
}

// isSearchable requires at least one letter or digit; punctuation-only
// queries return an empty page without touching the backend.
func isSearchable(query string) bool {
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// needsFallback selects the substring path for queries the trigram
// tokenizer under-indexes: anything shorter than one trigram.
func needsFallback(query string) bool {
	return utf8.RuneCountInString(query) < 3
}

// matchedTaskField decides which field the snippet comes from: the name if
// it contains the query, else the spec, else the name as a fallback label.
func matchedTaskField(task *types.Task, query string) (string, string) {
	if containsFold(task.Name, query) {
		return "name", task.Name
	}
	if task.Spec != nil && containsFold(*task.Spec, query) {
		return "spec", *task.Spec
	}
	if task.Spec != nil && *task.Spec != "" {
		return "spec", *task.Spec
	}
	return "name", task.Name
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// buildSnippet extracts ±60 runes of context around the first
// case-insensitive match, with "..." affixes where truncated.
func buildSnippet(text, query string) string {
	runes := []rune(text)
	matchStart, matchLen := findFold(text, query)
	if matchStart < 0 {
		if len(runes) <= 2*snippetContext {
			return text
		}
		return string(runes[:2*snippetContext]) + "..."
	}

	start := matchStart - snippetContext
	if start < 0 {
		start = 0
	}
	end := matchStart + matchLen + snippetContext
	if end > len(runes) {
		end = len(runes)
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// findFold locates the first case-insensitive match, in rune offsets.
func findFold(text, query string) (int, int) {
	lowerText := strings.ToLower(text)
	lowerQuery := strings.ToLower(query)
	byteIdx := strings.Index(lowerText, lowerQuery)
	if byteIdx < 0 {
		return -1, 0
	}
	return utf8.RuneCountInString(lowerText[:byteIdx]), utf8.RuneCountInString(lowerQuery)
}
