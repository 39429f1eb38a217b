package issue

import "context"

type Repository interface {
	Create(ctx context.Context, i *Issue) error
	Get(ctx context.Context, id string) (*Issue, error)
	List(ctx context.Context, status Status) ([]*Issue, error)
	Update(ctx context.Context, i *Issue) error
}
