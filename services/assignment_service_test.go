package services

import (
	"net/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
)

func assign(ids ...int64) *models.AssignmentForm {
	return &models.AssignmentForm{Action: models.ActionAssign, IDs: ids}
}

func deassign(ids ...int64) *models.AssignmentForm {
	return &models.AssignmentForm{Action: models.ActionDeassign, IDs: ids}
}

// TestAssign_NodeGroupAuditsBothSides tests the symmetric assignment audit
func (suite *ServicesTestSuite) TestAssign_NodeGroupAuditsBothSides() {
	node := suite.node("aa:bb", "web01", "inservice")
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})

	results, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes", assign(node.ID))
	require.NoError(suite.T(), err)
	require.Len(suite.T(), results, 1)
	assert.True(suite.T(), results[0].OK())

	assert.Equal(suite.T(), []int64{node.ID}, suite.linked(registry.NodeGroups, group.ID, "nodes"))
	assert.Equal(suite.T(), []int64{group.ID}, suite.linked(registry.Nodes, node.ID, "node_groups"))

	groupAudits := suite.auditsOn(registry.NodeGroups, group.ID, "node")
	require.Len(suite.T(), groupAudits, 1)
	assert.Equal(suite.T(), models.AuditAssigned, groupAudits[0].OldValue)
	assert.Equal(suite.T(), "aa:bb", groupAudits[0].NewValue)

	nodeAudits := suite.auditsOn(registry.Nodes, node.ID, "node_group")
	require.Len(suite.T(), nodeAudits, 1)
	assert.Equal(suite.T(), models.AuditAssigned, nodeAudits[0].OldValue)
	assert.Equal(suite.T(), "web", nodeAudits[0].NewValue)
}

// TestAssign_ExistingLinkIsNoop tests that assigning twice writes one link and one audit
func (suite *ServicesTestSuite) TestAssign_ExistingLinkIsNoop() {
	node := suite.node("aa:bb", "web01", "inservice")
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})

	for i := 0; i < 2; i++ {
		_, err := suite.services.Assignments.Apply(suite.ctx, registry.Nodes, node.ID, "node_groups", assign(group.ID))
		require.NoError(suite.T(), err)
	}

	assert.Len(suite.T(), suite.linked(registry.Nodes, node.ID, "node_groups"), 1)
	assert.Len(suite.T(), suite.auditsOn(registry.Nodes, node.ID, "node_group"), 1)
}

// TestAssign_HypervisorAuditsBothSides tests self-referential assignment
func (suite *ServicesTestSuite) TestAssign_HypervisorAuditsBothSides() {
	hypervisor := suite.node("hv:01", "hv01", "inservice")
	guest := suite.node("vm:01", "vm01", "inservice")

	_, err := suite.services.Assignments.Apply(suite.ctx, registry.Nodes, hypervisor.ID, registry.RelGuestVMs, assign(guest.ID))
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), []int64{hypervisor.ID}, suite.linked(registry.Nodes, guest.ID, "hypervisor"))

	hv := suite.auditsOn(registry.Nodes, hypervisor.ID, "guest_vm")
	require.Len(suite.T(), hv, 1)
	assert.Equal(suite.T(), "vm:01", hv[0].NewValue)

	vm := suite.auditsOn(registry.Nodes, guest.ID, "hypervisor")
	require.Len(suite.T(), vm, 1)
	assert.Equal(suite.T(), "hv:01", vm[0].NewValue)
}

// TestDeassign_BulkContinuesPastMissingTarget tests best-effort bulk processing
func (suite *ServicesTestSuite) TestDeassign_BulkContinuesPastMissingTarget() {
	first := suite.node("aa:01", "web01", "inservice")
	second := suite.node("aa:02", "web02", "inservice")
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})
	_, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes", assign(first.ID, second.ID))
	require.NoError(suite.T(), err)

	results, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes", deassign(first.ID, 9999, second.ID))
	require.NoError(suite.T(), err)

	require.Len(suite.T(), results, 3)
	assert.Equal(suite.T(), http.StatusOK, results[0].Code)
	assert.Equal(suite.T(), int64(9999), results[1].ID)
	assert.Equal(suite.T(), http.StatusNotFound, results[1].Code)
	assert.Equal(suite.T(), http.StatusOK, results[2].Code)
	assert.Empty(suite.T(), suite.linked(registry.NodeGroups, group.ID, "nodes"))

	audits := suite.auditsOn(registry.NodeGroups, group.ID, "node")
	require.Len(suite.T(), audits, 4)
	assert.Equal(suite.T(), models.AuditDeassigned, audits[2].OldValue)
	assert.Equal(suite.T(), models.AuditDeassigned, audits[3].OldValue)
}

// TestDeassign_SoleMissingTarget tests that a single missing target fails the request
func (suite *ServicesTestSuite) TestDeassign_SoleMissingTarget() {
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})

	_, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes", deassign(9999))

	assert.True(suite.T(), apperr.Is(err, apperr.KindNotFound))
}

// TestDeassign_AbsentLinkIsNoop tests idempotent deassignment
func (suite *ServicesTestSuite) TestDeassign_AbsentLinkIsNoop() {
	node := suite.node("aa:bb", "web01", "inservice")
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})

	results, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes", deassign(node.ID))
	require.NoError(suite.T(), err)

	assert.True(suite.T(), results[0].OK())
	assert.Empty(suite.T(), suite.auditsOn(registry.NodeGroups, group.ID, "node"))
}

// TestAssign_OversizedBatchRejected tests the batch size guard
func (suite *ServicesTestSuite) TestAssign_OversizedBatchRejected() {
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})
	var ids []int64
	for _, uid := range []string{"aa:01", "aa:02", "aa:03", "aa:04"} {
		ids = append(ids, suite.node(uid, uid, "inservice").ID)
	}

	_, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes", assign(ids...))

	assert.True(suite.T(), apperr.Is(err, apperr.KindBadRequest))
	assert.Empty(suite.T(), suite.linked(registry.NodeGroups, group.ID, "nodes"))
}

// TestAssign_InvalidAction tests form validation
func (suite *ServicesTestSuite) TestAssign_InvalidAction() {
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})

	_, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes",
		&models.AssignmentForm{Action: "swap", IDs: []int64{1}})

	assert.True(suite.T(), apperr.Is(err, apperr.KindBadRequest))
}

// TestAssign_UnsupportedRelationship tests relationships that cannot be assigned
func (suite *ServicesTestSuite) TestAssign_UnsupportedRelationship() {
	location := suite.create(suite.ctx, registry.PhysicalLocations, map[string]any{"name": "ams"})

	_, err := suite.services.Assignments.Apply(suite.ctx, registry.PhysicalLocations, location.ID, "physical_racks", assign(1))
	assert.True(suite.T(), apperr.Is(err, apperr.KindNotImplemented))

	_, err = suite.services.Assignments.Apply(suite.ctx, registry.PhysicalLocations, location.ID, "friends", assign(1))
	assert.True(suite.T(), apperr.Is(err, apperr.KindNotImplemented))
}

// TestAssign_MissingOwner tests assigning to a record that does not exist
func (suite *ServicesTestSuite) TestAssign_MissingOwner() {
	node := suite.node("aa:bb", "web01", "inservice")

	_, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, 4242, "nodes", assign(node.ID))

	assert.True(suite.T(), apperr.Is(err, apperr.KindNotFound))
}

// TestAssign_TagNameIsExclusive tests that a new value replaces the prior value of a tag name
func (suite *ServicesTestSuite) TestAssign_TagNameIsExclusive() {
	node := suite.node("aa:bb", "web01", "inservice")
	prod := suite.create(suite.ctx, registry.Tags, map[string]any{"name": "env", "value": "prod"})
	dev := suite.create(suite.ctx, registry.Tags, map[string]any{"name": "env", "value": "dev"})
	rack := suite.create(suite.ctx, registry.Tags, map[string]any{"name": "rack", "value": "r1"})

	_, err := suite.services.Assignments.Apply(suite.ctx, registry.Nodes, node.ID, "tags", assign(prod.ID, rack.ID))
	require.NoError(suite.T(), err)

	// assigned from the tag side
	_, err = suite.services.Assignments.Apply(suite.ctx, registry.Tags, dev.ID, "nodes", assign(node.ID))
	require.NoError(suite.T(), err)

	assert.ElementsMatch(suite.T(), []int64{dev.ID, rack.ID}, suite.linked(registry.Nodes, node.ID, "tags"))

	audits := suite.auditsOn(registry.Nodes, node.ID, "tag")
	require.Len(suite.T(), audits, 4)
	assert.Equal(suite.T(), models.AuditDeassigned, audits[2].OldValue)
	assert.Equal(suite.T(), "env=prod", audits[2].NewValue)
	assert.Equal(suite.T(), models.AuditAssigned, audits[3].OldValue)
	assert.Equal(suite.T(), "env=dev", audits[3].NewValue)
}

// TestAssign_ProtectedTagRequiresGroup tests that protected tag names are guarded
func (suite *ServicesTestSuite) TestAssign_ProtectedTagRequiresGroup() {
	node := suite.node("aa:bb", "web01", "inservice")

	_, err := suite.services.Mutations.Create(suite.ctx, registry.Tags, map[string]any{"name": "owner", "value": "team-a"})
	assert.True(suite.T(), apperr.Is(err, apperr.KindForbidden))

	owner := suite.create(suite.admin, registry.Tags, map[string]any{"name": "owner", "value": "team-a"})

	_, err = suite.services.Assignments.Apply(suite.ctx, registry.Nodes, node.ID, "tags", assign(owner.ID))
	assert.True(suite.T(), apperr.Is(err, apperr.KindForbidden))
	assert.Empty(suite.T(), suite.linked(registry.Nodes, node.ID, "tags"))

	_, err = suite.services.Assignments.Apply(suite.admin, registry.Nodes, node.ID, "tags", assign(owner.ID))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []int64{owner.ID}, suite.linked(registry.Nodes, node.ID, "tags"))

	_, err = suite.services.Assignments.Apply(suite.ctx, registry.Nodes, node.ID, "tags", deassign(owner.ID))
	assert.True(suite.T(), apperr.Is(err, apperr.KindForbidden))
}
