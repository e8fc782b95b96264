package engine

import (
	"context"
	"encoding/json"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/publish"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// RepublishImages submits one single-item publish request per media item
// referenced by item's non-empty image fields, and returns how many were
// submitted. Submissions are fire-and-forget and run inside an elevated scope.
// References that cannot be resolved in the source store are logged and
// skipped.
func (p *Propagator) RepublishImages(ctx context.Context, item *schema.Item) int {
	refs := item.MediaReferences()
	if len(refs) == 0 {
		return 0
	}

	ctx, release := identity.Elevate(ctx)
	defer release()

	log := logging.LogWith(ctx, p.logger)
	submitted := 0
	for _, ref := range refs {
		media, err := p.store.GetItem(ctx, ref.MediaID)
		if err != nil {
			log.Warn("media reference not resolved", "item_id", item.ID, "media_id", ref.MediaID, "error", err)
			continue
		}

		p.publisher.Submit(ctx, publish.Request{
			Source:        p.source,
			Target:        p.target,
			ItemID:        media.ID,
			Recursive:     false,
			EffectiveAt:   p.now(),
			PropagationID: logging.PropagationID(ctx),
			Actor:         identity.ActorFrom(ctx),
		})
		submitted++

		payload, _ := json.Marshal(map[string]string{
			"media_id": media.ID,
			"source":   p.source,
			"target":   p.target,
		})
		if err := p.store.AppendEvent(ctx, &store.Event{
			PropagationID: logging.PropagationID(ctx),
			ItemID:        item.ID,
			Type:          schema.EventRepublishSubmitted,
			Payload:       payload,
			Actor:         identity.ActorFrom(ctx),
		}); err != nil {
			log.Warn("republish event not recorded", "item_id", item.ID, "error", err)
		}
	}
	return submitted
}
