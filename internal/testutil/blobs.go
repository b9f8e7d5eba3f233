package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/marcelsud/webhook-relay/blob"
)

// BlobStore keeps JSON documents in memory
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	PutErr error
	GetErr error
}

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

func (s *BlobStore) Put(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *BlobStore) Get(_ context.Context, key string, dst any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return s.GetErr
	}
	data, ok := s.objects[key]
	if !ok {
		return blob.ErrNotFound
	}
	return json.Unmarshal(data, dst)
}

func (s *BlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Keys lists the stored keys
func (s *BlobStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// Raw returns the stored JSON for key
func (s *BlobStore) Raw(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}
