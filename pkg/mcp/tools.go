package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/statecascade/internal/engine"
	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/logging"
	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/pkg/schema"
)

// handlePropagate runs a propagation on behalf of the calling actor.
func (s *CascadeServer) handlePropagate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rootID, err := req.RequireString("root_id")
	if err != nil {
		return mcp.NewToolResultError("root_id is required"), nil
	}
	stateName, err := req.RequireString("state_name")
	if err != nil {
		return mcp.NewToolResultError("state_name is required"), nil
	}
	if s.propagator == nil {
		return mcp.NewToolResultError("propagation is not available"), nil
	}
	actor := req.GetString("actor", s.actor)
	if err := identity.ValidateActor(actor); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx = identity.WithActor(ctx, actor)
	report := s.propagator.PropagateByID(ctx, rootID, stateName)

	res, err := s.marshalFiltered(ctx, req, report)
	if err != nil || res == nil {
		return res, err
	}
	if report.Result != nil && !report.Result.Success {
		res.IsError = true
	}
	return res, nil
}

type childView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	WorkflowStateID string `json:"workflow_state_id,omitempty"`
	Locked          bool   `json:"locked"`
}

type itemView struct {
	*schema.Item
	StateName string      `json:"state_name,omitempty"`
	Terminal  bool        `json:"terminal"`
	Children  []childView `json:"children"`
}

// handleItem returns an item, the display name of its state and its direct children.
func (s *CascadeServer) handleItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemID, err := req.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError("item_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("store is not available"), nil
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("item lookup failed: %v", err)), nil
	}
	view := itemView{Item: item, Children: []childView{}}

	def, err := s.store.WorkflowFor(ctx, item)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
	}
	if def != nil {
		for _, st := range def.States {
			if st.ID == item.WorkflowStateID {
				view.StateName = st.DisplayName
				view.Terminal = st.Terminal
				break
			}
		}
	}

	children, err := s.store.GetChildren(ctx, item.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("children lookup failed: %v", err)), nil
	}
	for _, c := range children {
		view.Children = append(view.Children, childView{
			ID:              c.ID,
			Name:            c.Name,
			WorkflowStateID: c.WorkflowStateID,
			Locked:          c.Locked,
		})
	}
	return s.marshalFiltered(ctx, req, view)
}

// handleDatasources lists the distinct data sources of an item's renderings.
func (s *CascadeServer) handleDatasources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	itemID, err := req.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError("item_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("store is not available"), nil
	}
	device := req.GetString("device", schema.DefaultDevice)

	sources, err := engine.ListDatasources(ctx, s.store, itemID, device)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("datasource listing failed: %v", err)), nil
	}
	return s.marshalFiltered(ctx, req, map[string]any{
		"item_id":     itemID,
		"device":      device,
		"datasources": sources,
	})
}

// handleEvents returns item history or a replayed propagation.
func (s *CascadeServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store is not available"), nil
	}
	filter := store.EventFilter{
		ItemID:        req.GetString("item_id", ""),
		PropagationID: req.GetString("propagation_id", ""),
		EventType:     req.GetString("event_type", ""),
		Limit:         req.GetInt("limit", 100),
	}
	if filter.ItemID == "" && filter.PropagationID == "" {
		return mcp.NewToolResultError("event query requires either 'item_id' or 'propagation_id'"), nil
	}

	events, err := s.store.GetEvents(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	out := map[string]any{"events": events}

	if filter.PropagationID != "" {
		trace, err := s.events.ReplayPropagation(ctx, filter.PropagationID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("replay failed: %v", err)), nil
		}
		out["trace"] = trace
	}
	return s.marshalFiltered(ctx, req, out)
}

// notifyNode forwards a node outcome to the MCP client whose call started the
// propagation. Runs without a client session (scheduled runs) are ignored.
func (s *CascadeServer) notifyNode(ctx context.Context, out engine.NodeOutcome) {
	if server.ClientSessionFromContext(ctx) == nil {
		return
	}
	level := "info"
	if out.Status == schema.NodeStatusSkipped {
		level = "warning"
	}
	err := s.mcpServer.SendNotificationToClient(ctx, "notifications/message", map[string]any{
		"level":  level,
		"logger": "statecascade",
		"data":   out,
	})
	if err != nil {
		logging.LogWith(ctx, s.logger).Debug("node notification not delivered", "item_id", out.ItemID, "error", err)
	}
}

// --- Internal helpers ---

// marshalFiltered applies the request's optional jq filter and marshals the result.
func (s *CascadeServer) marshalFiltered(ctx context.Context, req mcp.CallToolRequest, v any) (*mcp.CallToolResult, error) {
	if expr := req.GetString("jq", ""); expr != "" {
		filtered, err := s.jq.Filter(ctx, expr, v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("jq filter failed: %v", err)), nil
		}
		v = filtered
	}
	return marshalResult(v)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
