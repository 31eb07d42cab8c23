package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/crawlkit/webstalk/internal/types"
)

// MongoStorage persists the three logical tables the core requires
// (crawl_results, url_states, crawl_state) as three collections in one
// database.
type MongoStorage struct {
	client      *mongo.Client
	results     *mongo.Collection
	urlStates   *mongo.Collection
	crawlStates *mongo.Collection
	mu          sync.Mutex
	count       int
	logger      *slog.Logger
}

// NewMongoStorage creates a new MongoDB storage backend.
func NewMongoStorage(uri, database string, logger *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	db := client.Database(database)
	return &MongoStorage{
		client:      client,
		results:     db.Collection("crawl_results"),
		urlStates:   db.Collection("url_states"),
		crawlStates: db.Collection("crawl_state"),
		logger:      logger.With("component", "mongo_storage"),
	}, nil
}

func (s *MongoStorage) Name() string { return "mongodb" }

// SaveResult upserts one crawl_results document keyed by (job_id, url),
// satisfying the idempotent-by-(jobID, URL) requirement.
func (s *MongoStorage) SaveResult(jobID string, result *types.CrawlResult) error {
	rec := flattenResult(jobID, result)
	doc := bson.M{
		"job_id":       rec.JobID,
		"url":          rec.URL,
		"depth":        rec.Depth,
		"status_code":  rec.StatusCode,
		"content_type": rec.ContentType,
		"title":        rec.Title,
		"links":        rec.Links,
		"success":      rec.Success,
		"error":        rec.Error,
		"processed_at": rec.ProcessedAt,
		"duration_ms":  rec.DurationMS,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	filter := bson.M{"job_id": jobID, "url": rec.URL}
	_, err := s.results.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb save result: %w", err)
	}

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

// SaveUrlState upserts one url_states document keyed by URL.
func (s *MongoStorage) SaveUrlState(jobID string, state *UrlState) error {
	doc := bson.M(urlStateRecord(state))
	doc["job_id"] = jobID

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	filter := bson.M{"job_id": jobID, "url": state.URL}
	_, err := s.urlStates.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb save url state: %w", err)
	}
	return nil
}

// LoadCrawlState fetches the singleton crawl_state row for jobID.
func (s *MongoStorage) LoadCrawlState(jobID string) (*CrawlState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var cs CrawlState
	err := s.crawlStates.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&cs)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb load crawl state: %w", err)
	}
	return &cs, nil
}

// SaveCrawlState upserts the singleton crawl_state row for state.JobID.
func (s *MongoStorage) SaveCrawlState(state *CrawlState) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	filter := bson.M{"job_id": state.JobID}
	_, err := s.crawlStates.ReplaceOne(ctx, filter, state, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb save crawl state: %w", err)
	}
	return nil
}

func (s *MongoStorage) Close() error {
	s.logger.Info("mongodb storage closing", "total_results", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// --- Multi-Storage Fan-Out ---

// MultiStorage writes every operation to multiple backends simultaneously,
// e.g. a fast JSONL export alongside a durable SQLite/Mongo backend.
type MultiStorage struct {
	backends []Storage
	logger   *slog.Logger
}

// NewMultiStorage creates a storage that fans out to multiple backends.
func NewMultiStorage(backends []Storage, logger *slog.Logger) *MultiStorage {
	return &MultiStorage{
		backends: backends,
		logger:   logger.With("component", "multi_storage"),
	}
}

func (s *MultiStorage) Name() string { return "multi" }

func (s *MultiStorage) SaveResult(jobID string, result *types.CrawlResult) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.SaveResult(jobID, result); err != nil {
			s.logger.Error("backend save_result failed", "backend", backend.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *MultiStorage) SaveUrlState(jobID string, state *UrlState) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.SaveUrlState(jobID, state); err != nil {
			s.logger.Error("backend save_url_state failed", "backend", backend.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LoadCrawlState consults backends in order and returns the first hit.
func (s *MultiStorage) LoadCrawlState(jobID string) (*CrawlState, error) {
	for _, backend := range s.backends {
		cs, err := backend.LoadCrawlState(jobID)
		if err != nil {
			s.logger.Error("backend load_crawl_state failed", "backend", backend.Name(), "error", err)
			continue
		}
		if cs != nil {
			return cs, nil
		}
	}
	return nil, nil
}

func (s *MultiStorage) SaveCrawlState(state *CrawlState) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.SaveCrawlState(state); err != nil {
			s.logger.Error("backend save_crawl_state failed", "backend", backend.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *MultiStorage) Close() error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
