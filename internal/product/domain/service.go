package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Product, error)
	// Lookup returns the active products among ids keyed by id. Unknown or
	// inactive ids are absent from the result.
	Lookup(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]Product, error)
}

var (
	ErrNotFound  = errors.New("not_found")
	ErrInvalidID = errors.New("invalid_id")
)
