// Package importer loads content trees, workflows and renderings from a JSON
// document into a store.
package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/statecascade/internal/store"
	"github.com/rendis/statecascade/internal/validation"
	"github.com/rendis/statecascade/pkg/schema"
)

// Summary counts what an import wrote.
type Summary struct {
	Workflows   int                      `json:"workflows"`
	Items       int                      `json:"items"`
	Renderings  int                      `json:"renderings"`
	Assignments int                      `json:"assignments"`
	Warnings    []schema.ValidationIssue `json:"warnings,omitempty"`
	RootIDs     []string                 `json:"root_ids,omitempty"`
}

// Importer validates and writes import documents.
type Importer struct {
	store  store.Store
	logger *slog.Logger
}

// New creates an Importer writing to s.
func New(s store.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: s, logger: logger}
}

// Import validates raw and writes it. Nothing is written when validation
// fails. Items and workflows are upserted; renderings are appended.
func (im *Importer) Import(ctx context.Context, raw []byte) (*Summary, error) {
	existing, err := im.store.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	lookup := make(validation.WorkflowMap, len(existing))
	for _, def := range existing {
		lookup[def.ID] = def
	}

	v, err := validation.NewImportValidator(lookup)
	if err != nil {
		return nil, err
	}
	doc, result := v.Validate(raw)
	if err := result.ToError(); err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		im.logger.Warn("import warning", "path", w.Path, "message", w.Message)
	}

	sum := &Summary{Warnings: result.Warnings}
	if err := im.write(ctx, doc, sum); err != nil {
		return sum, err
	}
	im.logger.Info("import completed",
		"workflows", sum.Workflows,
		"items", sum.Items,
		"renderings", sum.Renderings,
		"assignments", sum.Assignments)
	return sum, nil
}

func (im *Importer) write(ctx context.Context, doc *schema.ImportDocument, sum *Summary) error {
	for i := range doc.Workflows {
		if err := im.store.CreateWorkflow(ctx, &doc.Workflows[i]); err != nil {
			return fmt.Errorf("workflow %s: %w", doc.Workflows[i].ID, err)
		}
		sum.Workflows++
	}

	for i := range doc.Items {
		id, err := im.writeItem(ctx, &doc.Items[i], "", i, sum)
		if err != nil {
			return err
		}
		sum.RootIDs = append(sum.RootIDs, id)
	}

	for i := range doc.Renderings {
		if err := im.store.AddRendering(ctx, &doc.Renderings[i]); err != nil {
			return fmt.Errorf("rendering %s on %s: %w", doc.Renderings[i].RenderingID, doc.Renderings[i].ItemID, err)
		}
		sum.Renderings++
	}

	for _, a := range doc.Assignments {
		if err := im.store.AssignWorkflow(ctx, a.ItemID, a.WorkflowID, a.StateID); err != nil {
			return fmt.Errorf("assign %s to %s: %w", a.WorkflowID, a.ItemID, err)
		}
		sum.Assignments++
	}
	return nil
}

// writeItem upserts item under parentID and then its children, depth first.
func (im *Importer) writeItem(ctx context.Context, in *schema.ImportItem, parentID string, position int, sum *Summary) (string, error) {
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	item := &schema.Item{
		ID:              id,
		Name:            in.Name,
		ParentID:        parentID,
		SortOrder:       position,
		Fields:          in.Fields,
		Locked:          in.Locked,
		LockedBy:        in.LockedBy,
		ReadOnly:        in.ReadOnly,
		WorkflowID:      in.WorkflowID,
		WorkflowStateID: in.WorkflowStateID,
	}
	if err := im.store.UpsertItem(ctx, item); err != nil {
		return "", fmt.Errorf("item %q: %w", in.Name, err)
	}
	sum.Items++

	for i := range in.Children {
		if _, err := im.writeItem(ctx, &in.Children[i], item.ID, i, sum); err != nil {
			return "", err
		}
	}
	return item.ID, nil
}
