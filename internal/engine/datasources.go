package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// ListDatasources returns the distinct data sources of the renderings bound to
// itemID for device, in rendering order. An empty data source is kept once. itemID must be a UUID,
// optionally wrapped in braces.
func ListDatasources(ctx context.Context, renderings store.RenderingReader, itemID, device string) ([]string, error) {
	id := strings.Trim(strings.TrimSpace(itemID), "{}")
	if _, err := uuid.Parse(id); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%q is not a valid item id", itemID).WithCause(err)
	}
	if device == "" {
		device = schema.DefaultDevice
	}

	refs, err := renderings.GetRenderings(ctx, id, device)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r.DataSource]; ok {
			continue
		}
		seen[r.DataSource] = struct{}{}
		out = append(out, r.DataSource)
	}
	return out, nil
}
