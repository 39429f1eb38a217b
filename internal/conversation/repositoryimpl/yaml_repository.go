package repositoryimpl

import (
	"context"
	"errors"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/payneio/amplifier-bundle-foreman/internal/conversation"
	"github.com/payneio/amplifier-bundle-foreman/pkg/cerr"
	"github.com/payneio/amplifier-bundle-foreman/pkg/storage"
)

const historyPath = "conversation/history.yaml"

// YAMLRepository stores the conversation as a single YAML document. Appends
// are serialized; the read-modify-write is atomic with respect to this
// process only.
type YAMLRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewYAMLRepository(storage storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: storage}
}

var _ conversation.Repository = (*YAMLRepository)(nil)

func (r *YAMLRepository) Append(ctx context.Context, turn *conversation.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	turns, err := r.load(ctx)
	if err != nil {
		return err
	}
	turns = append(turns, turn)

	data, err := yaml.Marshal(turns)
	if err != nil {
		return cerr.NewError(cerr.Internal, "failed to encode conversation history", err)
	}
	if err := r.storage.Write(ctx, historyPath, data); err != nil {
		return cerr.WrapStorageWriteError(historyPath, err)
	}
	return nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*conversation.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *YAMLRepository) load(ctx context.Context) ([]*conversation.Turn, error) {
	data, err := r.storage.Read(ctx, historyPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, cerr.WrapStorageReadError(historyPath, err)
	}
	var turns []*conversation.Turn
	if err := yaml.Unmarshal(data, &turns); err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to decode conversation history", err)
	}
	return turns, nil
}
