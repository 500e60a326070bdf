package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/blogem/cmdb/config"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/repositories"
)

// CascadePolicy applies configured status side effects. When a record of a source type moves
// to a mapped status, every dependent of the target type whose status differs is moved to the
// mapped target status inside the same unit of work.
type CascadePolicy struct {
	rules    []config.CascadeRule
	maxDepth int
	reg      *registry.Registry
	records  repositories.RecordRepository
	logger   *zap.Logger
}

// NewCascadePolicy creates a new cascade policy
func NewCascadePolicy(rules []config.CascadeRule, maxDepth int, reg *registry.Registry, records repositories.RecordRepository, logger *zap.Logger) *CascadePolicy {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	return &CascadePolicy{rules: rules, maxDepth: maxDepth, reg: reg, records: records, logger: logger}
}

// Rules returns the rules that fire when a record of source moves to status
func (p *CascadePolicy) Rules(source, status string) []config.CascadeRule {
	var out []config.CascadeRule
	for _, rule := range p.rules {
		if rule.Source == source && rule.Status == status {
			out = append(out, rule)
		}
	}
	return out
}

func (p *CascadePolicy) apply(ctx context.Context, m *mutator, w *writer, res *registry.Resource, rec *models.Record, depth int) error {
	statusField, ok := res.Field("status")
	if !ok || statusField.Kind != registry.Reference {
		return nil
	}
	statusID, ok := rec.RefID("status")
	if !ok {
		return nil
	}
	statuses, err := p.reg.Lookup(statusField.Target)
	if err != nil {
		return err
	}
	status, err := m.resolver.labelByID(ctx, w.tx, statuses, statusID)
	if err != nil {
		return err
	}

	rules := p.Rules(res.Name, status)
	if len(rules) == 0 {
		return nil
	}
	if depth >= p.maxDepth {
		p.logger.Warn("cascade depth reached, not applying further rules",
			zap.String("resource", res.Name), zap.Int64("id", rec.ID), zap.String("status", status))
		return nil
	}

	for _, rule := range rules {
		target, err := p.reg.Lookup(rule.Target)
		if err != nil {
			return err
		}
		targetStatus, ok := target.Field("status")
		if !ok || targetStatus.Kind != registry.Reference {
			p.logger.Warn("cascade target has no status", zap.String("target", target.Name))
			continue
		}
		newStatusID, err := m.resolver.idByLabel(ctx, w.tx, statuses, rule.TargetStatus)
		if err != nil {
			return err
		}

		dependents, err := p.dependents(ctx, w, res, rec, target)
		if err != nil {
			return err
		}
		for _, dep := range dependents {
			if current, ok := dep.RefID("status"); ok && current == newStatusID {
				continue
			}
			p.logger.Debug("cascading status",
				zap.String("source", res.Name), zap.Int64("source_id", rec.ID),
				zap.String("target", target.Name), zap.Int64("target_id", dep.ID),
				zap.String("status", rule.TargetStatus))
			if _, err := m.update(ctx, w, target, dep, map[string]any{"status": newStatusID}, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependents finds the target records linked to rec by a reference in either direction
func (p *CascadePolicy) dependents(ctx context.Context, w *writer, res *registry.Resource, rec *models.Record, target *registry.Resource) ([]*models.Record, error) {
	var out []*models.Record

	for _, f := range res.Fields {
		if f.Kind != registry.Reference || f.Target != target.Name {
			continue
		}
		id, ok := rec.RefID(f.Name)
		if !ok {
			continue
		}
		dep, err := p.records.Get(ctx, w.tx, target, id)
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}

	for _, f := range target.Fields {
		if f.Kind != registry.Reference || f.Target != res.Name {
			continue
		}
		deps, err := p.records.Referencing(ctx, w.tx, target, f.Column, rec.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, deps...)
	}

	return out, nil
}
