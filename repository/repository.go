package repository

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"collab-project/db"
	"collab-project/models"

	"github.com/syndtr/goleveldb/leveldb"
)

const (
	documentPrefix = "doc:"
	pingKey        = "health:ping"
)

var ErrDocumentNotFound = errors.New("document not found")

// It abstracts the storage layer from the sync transport
type DocumentRepositoryInterface interface {
	PutDocument(name string, state []byte) error
	GetDocument(name string) (*models.DocumentRecord, error)
	ListDocuments() ([]string, error)
	Ping() error
}

// DocumentRepository implements the DocumentRepositoryInterface using LevelDB as the storage backend
type DocumentRepository struct {
	db *db.LevelDB
}

// NewDocumentRepository creates and returns a new DocumentRepository instance
func NewDocumentRepository(db *db.LevelDB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func documentKey(name string) []byte {
	return []byte(documentPrefix + name)
}

// PutDocument stores the latest state of a document
func (r *DocumentRepository) PutDocument(name string, state []byte) error {
	data, err := json.Marshal(models.DocumentRecord{
		Name:      name,
		State:     state,
		UpdatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return r.db.Put(documentKey(name), data)
}

// GetDocument retrieves a stored document by name
func (r *DocumentRepository) GetDocument(name string) (*models.DocumentRecord, error) {
	data, err := r.db.Get(documentKey(name))
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec models.DocumentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Ping checks that the store still answers reads
func (r *DocumentRepository) Ping() error {
	_, err := r.db.Get([]byte(pingKey))
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	return err
}

// ListDocuments returns the names of all stored documents in key order
func (r *DocumentRepository) ListDocuments() ([]string, error) {
	iter := r.db.NewPrefixIterator([]byte(documentPrefix))
	defer iter.Release()

	var names []string
	for iter.Next() {
		names = append(names, strings.TrimPrefix(string(iter.Key()), documentPrefix))
	}
	return names, iter.Error()
}
