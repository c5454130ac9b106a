package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"drivesync/internal/fs"

	"golang.org/x/sync/singleflight"
)

// Resolver 获取或创建指定名称的远端文件夹
type Resolver struct {
	store fs.RemoteStore
	group singleflight.Group
}

func NewResolver(store fs.RemoteStore) *Resolver {
	return &Resolver{store: store}
}

type resolved struct {
	id      string
	created bool
}

// ResolveOrCreateFolder returns the id of the first folder called name under
// parentID, creating it when there is none. Concurrent calls for the same
// (parentID, name) share one lookup and at most one creation.
func (r *Resolver) ResolveOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	id, _, err := r.resolve(ctx, name, parentID)
	return id, err
}

func (r *Resolver) resolve(ctx context.Context, name, parentID string) (string, bool, error) {
	if name == "" {
		return "", false, errors.New("resolve folder: empty name")
	}

	v, err, _ := r.group.Do(parentID+"\x00"+name, func() (any, error) {
		items, err := r.store.ListChildren(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("resolve folder %q: %w", name, err)
		}
		for _, it := range items {
			if it.IsFolder && it.Name == name {
				return resolved{id: it.ID}, nil
			}
		}

		id, err := r.store.CreateFolder(ctx, name, parentID)
		if err != nil {
			return nil, fmt.Errorf("create folder %q: %w", name, err)
		}
		slog.Info("已创建远端文件夹", "name", name, "parent", parentID, "id", id)
		return resolved{id: id, created: true}, nil
	})
	if err != nil {
		return "", false, err
	}

	res := v.(resolved)
	return res.id, res.created, nil
}
