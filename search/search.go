// Package search maintains a full-text index over terminal tasks.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/vinayprograms/taskkit/tasks"
)

// Common errors.
var (
	ErrClosed      = errors.New("search index closed")
	ErrNotTerminal = errors.New("task is not terminal")
)

// DefaultLimit bounds result size when the caller does not set one.
const DefaultLimit = 20

// Document is the indexed projection of a terminal task.
type Document struct {
	ID           string    `json:"id"`
	AgentType    string    `json:"agent_type"`
	Status       string    `json:"status"`
	UserID       string    `json:"user_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	Step         string    `json:"step"`
	Message      string    `json:"message"`
	CompletedAt  time.Time `json:"completed_at"`
}

// DocumentFor projects a terminal task into its indexable form.
func DocumentFor(task *tasks.Task) Document {
	doc := Document{
		ID:        task.ID,
		AgentType: task.AgentType,
		Status:    task.Status.String(),
		UserID:    task.UserID,
		Step:      task.Progress.Step,
		Message:   task.Progress.Message,
	}
	if task.Error != nil {
		doc.ErrorCode = task.Error.Code
		doc.ErrorMessage = task.Error.Message
	}
	if task.CompletedAt != nil {
		doc.CompletedAt = *task.CompletedAt
	}
	return doc
}

// Hit is one search result.
type Hit struct {
	TaskID       string  `json:"task_id"`
	Score        float64 `json:"score"`
	AgentType    string  `json:"agent_type"`
	Status       string  `json:"status"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	Step         string  `json:"step,omitempty"`
}

// Options narrow a search.
type Options struct {
	// Limit caps the number of hits. Default: DefaultLimit.
	Limit int

	// Status restricts hits to one terminal status.
	Status string

	// AgentType restricts hits to one agent type.
	AgentType string
}

// Config configures the index.
type Config struct {
	// Path is the on-disk index location. Empty keeps the index
	// in memory, which suits tests and single-run deployments.
	Path string
}

// Index is a full-text index over terminal tasks. Safe for
// concurrent use.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// New opens or creates the index.
func New(cfg Config) (*Index, error) {
	var index bleve.Index
	var err error

	if cfg.Path == "" {
		index, err = bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create search index: %w", err)
		}
	} else if _, statErr := os.Stat(cfg.Path); os.IsNotExist(statErr) {
		index, err = bleve.New(cfg.Path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create search index: %w", err)
		}
	} else {
		index, err = bleve.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open search index: %w", err)
		}
	}

	return &Index{index: index}, nil
}

// buildIndexMapping creates the Bleve index mapping.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Text fields (analyzed for full-text search)
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	// Keyword fields (not analyzed, exact match)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()

	// Date field
	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	docMapping.AddFieldMappingsAt("agent_type", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("status", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("user_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("error_code", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("error_message", textFieldMapping)
	docMapping.AddFieldMappingsAt("step", textFieldMapping)
	docMapping.AddFieldMappingsAt("message", textFieldMapping)
	docMapping.AddFieldMappingsAt("completed_at", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// IndexTask adds or replaces a terminal task in the index.
// Returns ErrNotTerminal for tasks still in flight.
func (ix *Index) IndexTask(task *tasks.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("cannot index task without ID")
	}
	if !task.Status.IsTerminal() {
		return ErrNotTerminal
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return ErrClosed
	}

	if err := ix.index.Index(task.ID, DocumentFor(task)); err != nil {
		return fmt.Errorf("failed to index task: %w", err)
	}
	return nil
}

// Remove deletes a task from the index. Removing an unindexed task
// is not an error.
func (ix *Index) Remove(taskID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return ErrClosed
	}

	return ix.index.Delete(taskID)
}

// Search runs a full-text query over the indexed tasks.
// An empty query matches everything, useful with filters.
func (ix *Index) Search(ctx context.Context, q string, opts Options) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return nil, ErrClosed
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var textQuery query.Query
	if q == "" {
		textQuery = bleve.NewMatchAllQuery()
	} else {
		textQuery = bleve.NewMatchQuery(q)
	}

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(textQuery)

	if opts.Status != "" {
		statusQuery := bleve.NewTermQuery(opts.Status)
		statusQuery.SetField("status")
		boolQuery.AddMust(statusQuery)
	}
	if opts.AgentType != "" {
		agentQuery := bleve.NewTermQuery(opts.AgentType)
		agentQuery.SetField("agent_type")
		boolQuery.AddMust(agentQuery)
	}

	searchReq := bleve.NewSearchRequest(boolQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"agent_type", "status", "error_code", "error_message", "step"}

	searchResult, err := ix.index.SearchInContext(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		h := Hit{
			TaskID: hit.ID,
			Score:  hit.Score,
		}
		if v, ok := hit.Fields["agent_type"].(string); ok {
			h.AgentType = v
		}
		if v, ok := hit.Fields["status"].(string); ok {
			h.Status = v
		}
		if v, ok := hit.Fields["error_code"].(string); ok {
			h.ErrorCode = v
		}
		if v, ok := hit.Fields["error_message"].(string); ok {
			h.ErrorMessage = v
		}
		if v, ok := hit.Fields["step"].(string); ok {
			h.Step = v
		}
		hits = append(hits, h)
	}

	return hits, nil
}

// Count returns the number of indexed tasks.
func (ix *Index) Count() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return 0, ErrClosed
	}
	return ix.index.DocCount()
}

// Close releases the underlying index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return ErrClosed
	}
	ix.closed = true
	return ix.index.Close()
}
