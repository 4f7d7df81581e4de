package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/promotion"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Writer runs a write query. *Client implements it.
type Writer interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
}

// Projector mirrors promotion changes into the graph. Nodes are keyed by (label, id).
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

var _ promotion.Observer = (*Projector)(nil)

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{
		writer: writer,
		logger: logger,
	}
}

// EntityChanged merges the entity node and overwrites its properties
func (p *Projector) EntityChanged(ctx context.Context, entity models.CanonicalEntity, _ promotion.Outcome) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.EntityChanged")
	defer span.End()

	err := p.writer.Write(ctx, entityCypher(entity.Kind), map[string]any{
		"id":    entity.ID,
		"props": entityProps(entity),
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id":   entity.ID,
			"entity_kind": entity.Kind,
		}).Error("Failed to project entity into graph")
		return fmt.Errorf("failed to project entity into graph: %w", err)
	}
	return nil
}

// PairsInserted merges one edge per pair, creating placeholder nodes for ends not yet projected
func (p *Projector) PairsInserted(ctx context.Context, kind models.RelationshipKind, pairs []models.Pair) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.PairsInserted")
	defer span.End()

	if len(pairs) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(pairs))
	for i, pair := range pairs {
		rows[i] = map[string]any{"left": pair.LeftID, "right": pair.RightID}
	}

	if err := p.writer.Write(ctx, pairsCypher(kind), map[string]any{"pairs": rows}); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"relationship_kind": kind,
			"pairs":             len(pairs),
		}).Error("Failed to project relationships into graph")
		return fmt.Errorf("failed to project relationships into graph: %w", err)
	}
	return nil
}

func entityCypher(kind models.EntityKind) string {
	return fmt.Sprintf(`
		MERGE (e:%s {id: $id})
		SET e = $props
	`, label(string(kind)))
}

func pairsCypher(kind models.RelationshipKind) string {
	return fmt.Sprintf(`
		UNWIND $pairs AS pair
		MERGE (a:%s {id: pair.left})
		MERGE (b:%s {id: pair.right})
		MERGE (a)-[:%s]->(b)
	`, label(string(kind.Left())), label(string(kind.Right())), strings.ToUpper(sanitizeLabel(string(kind))))
}

func entityProps(entity models.CanonicalEntity) map[string]any {
	props := map[string]any{
		"id":     entity.ID,
		"name":   entity.Name,
		"active": entity.Active,
	}
	optional := map[string]*string{
		"natural_key": entity.NaturalKey,
		"category":    entity.Category,
		"address":     entity.Address,
		"district":    entity.District,
		"phone":       entity.Phone,
	}
	for k, v := range optional {
		if v != nil {
			props[k] = *v
		}
	}
	if entity.Latitude != nil && entity.Longitude != nil {
		props["latitude"] = *entity.Latitude
		props["longitude"] = *entity.Longitude
	}
	return props
}

// label turns facility into Facility
func label(kind string) string {
	s := sanitizeLabel(kind)
	return strings.ToUpper(s[:1]) + s[1:]
}

func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "Entity"
	}
	return b.String()
}
