package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
	"github.com/payneio/amplifier-bundle-foreman/pkg/cerr"
	"github.com/payneio/amplifier-bundle-foreman/pkg/storage"
)

const issuesPrefix = "issues"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", issuesPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, i *issue.Issue) error {
	exists, err := r.storage.Exists(ctx, path(i.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("issue", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "issue already exists", nil)
	}
	data, err := yaml.Marshal(i)
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to marshal issue: %w", err))
	}
	if err := r.storage.Write(ctx, path(i.ID), data); err != nil {
		return cerr.WrapStorageWriteError("issue", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*issue.Issue, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("issue", err)
	}
	var i issue.Issue
	if err := yaml.Unmarshal(data, &i); err != nil {
		return nil, cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to unmarshal issue: %w", err))
	}
	return &i, nil
}

func (r *YAMLRepository) List(ctx context.Context, status issue.Status) ([]*issue.Issue, error) {
	paths, err := r.storage.List(ctx, issuesPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("issues", err)
	}

	sort.Strings(paths)

	var all []*issue.Issue
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var i issue.Issue
		if err := yaml.Unmarshal(data, &i); err != nil {
			continue
		}
		if status != "" && i.Status != status {
			continue
		}
		all = append(all, &i)
	}
	return all, nil
}

func (r *YAMLRepository) Update(ctx context.Context, i *issue.Issue) error {
	exists, err := r.storage.Exists(ctx, path(i.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("issue", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "issue not found", nil)
	}
	data, err := yaml.Marshal(i)
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("failed to marshal issue: %w", err))
	}
	if err := r.storage.Write(ctx, path(i.ID), data); err != nil {
		return cerr.WrapStorageWriteError("issue", err)
	}
	return nil
}
