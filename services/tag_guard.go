package services

import (
	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/userctx"
)

// tagGuard restricts changes to tags with protected names to members of configured groups
type tagGuard struct {
	protected map[string][]string
}

func (g *tagGuard) checkName(actor userctx.Actor, name string) error {
	if g == nil {
		return nil
	}
	groups, ok := g.protected[name]
	if !ok || actor.InGroup(groups...) {
		return nil
	}
	return apperr.Forbidden("tag %s may only be changed by members of %v", name, groups)
}

// check guards changes to an existing record
func (g *tagGuard) check(actor userctx.Actor, res *registry.Resource, rec *models.Record) error {
	if res.Name != registry.Tags {
		return nil
	}
	name, _ := rec.Get("name").(string)
	return g.checkName(actor, name)
}

// checkValues guards the creation of a record
func (g *tagGuard) checkValues(actor userctx.Actor, res *registry.Resource, values map[string]any) error {
	if res.Name != registry.Tags {
		return nil
	}
	name, _ := values["name"].(string)
	return g.checkName(actor, name)
}
