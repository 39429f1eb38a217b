package conversation

import "context"

type Repository interface {
	Append(ctx context.Context, turn *Turn) error
	List(ctx context.Context) ([]*Turn, error)
}
