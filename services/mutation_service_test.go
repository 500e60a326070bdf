package services

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/repositories"
	"github.com/blogem/cmdb/repositories/mocks"
)

// TestCreate_WritesCreatedAudit tests that a create is audited once against the natural key
func (suite *ServicesTestSuite) TestCreate_WritesCreatedAudit() {
	node := suite.node("AA:BB:CC", "web01", "inservice")

	assert.Equal(suite.T(), "aa:bb:cc", node.Get("unique_id"))
	assert.Equal(suite.T(), "alice", node.Get("updated_by"))

	entries := suite.audits(registry.Nodes, node.ID)
	require.Len(suite.T(), entries, 1)
	assert.Equal(suite.T(), "unique_id", entries[0].Field)
	assert.Equal(suite.T(), models.AuditCreated, entries[0].OldValue)
	assert.Equal(suite.T(), "aa:bb:cc", entries[0].NewValue)
	assert.Equal(suite.T(), "alice", entries[0].UpdatedBy)
}

// TestCreate_CompositeKeyAudit tests the audit of a resource with a composite natural key
func (suite *ServicesTestSuite) TestCreate_CompositeKeyAudit() {
	tag := suite.create(suite.ctx, registry.Tags, map[string]any{"name": "env", "value": "prod"})

	entries := suite.audits(registry.Tags, tag.ID)
	require.Len(suite.T(), entries, 1)
	assert.Equal(suite.T(), "name+value", entries[0].Field)
	assert.Equal(suite.T(), "env=prod", entries[0].NewValue)
}

// TestCreate_ExistingKeyConflicts tests that an explicit create never overwrites
func (suite *ServicesTestSuite) TestCreate_ExistingKeyConflicts() {
	suite.node("aa:bb", "web01", "inservice")

	_, err := suite.services.Mutations.Create(suite.ctx, registry.Nodes, map[string]any{"unique_id": "AA:BB", "name": "web02"})

	assert.True(suite.T(), apperr.Is(err, apperr.KindConflict), "expected conflict, got %v", err)
}

// TestCreate_RequiresNaturalKey tests that a record cannot be created without its key
func (suite *ServicesTestSuite) TestCreate_RequiresNaturalKey() {
	_, err := suite.services.Mutations.Create(suite.ctx, registry.Nodes, map[string]any{"name": "web01"})

	assert.True(suite.T(), apperr.Is(err, apperr.KindBadRequest))
}

// TestUpdate_AuditsChangedFieldsOnly tests per-field diff auditing
func (suite *ServicesTestSuite) TestUpdate_AuditsChangedFieldsOnly() {
	node := suite.node("aa:bb", "web01", "inservice")

	updated, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, node.ID, map[string]any{
		"name":            "web02",
		"status":          "inservice",
		"processor_count": 8,
		"serial_number":   "",
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "web02", updated.Get("name"))
	assert.Equal(suite.T(), int64(8), updated.Get("processor_count"))

	entries := suite.audits(registry.Nodes, node.ID)
	require.Len(suite.T(), entries, 3)
	assert.Equal(suite.T(), "name", entries[1].Field)
	assert.Equal(suite.T(), "web01", entries[1].OldValue)
	assert.Equal(suite.T(), "web02", entries[1].NewValue)
	assert.Equal(suite.T(), "processor_count", entries[2].Field)
	assert.Equal(suite.T(), models.AuditUnset, entries[2].OldValue)
	assert.Equal(suite.T(), "8", entries[2].NewValue)
}

// TestUpdate_Idempotent tests that reapplying the same values changes nothing
func (suite *ServicesTestSuite) TestUpdate_Idempotent() {
	node := suite.node("aa:bb", "web01", "inservice")
	payload := map[string]any{"name": "web02", "status": "maintenance"}

	first, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, node.ID, payload)
	require.NoError(suite.T(), err)
	count := len(suite.audits(registry.Nodes, node.ID))

	suite.now = suite.now.Add(time.Hour)
	second, err := suite.services.Mutations.Update(suite.admin, registry.Nodes, node.ID, payload)
	require.NoError(suite.T(), err)

	assert.Len(suite.T(), suite.audits(registry.Nodes, node.ID), count)
	assert.Equal(suite.T(), first.Get("updated"), second.Get("updated"))
	assert.Equal(suite.T(), "alice", second.Get("updated_by"))
}

// TestUpdate_ReferenceAuditedByLabel tests that references are audited by label
func (suite *ServicesTestSuite) TestUpdate_ReferenceAuditedByLabel() {
	node := suite.node("aa:bb", "web01", "inservice")

	_, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, node.ID, map[string]any{
		"status": map[string]any{"name": "maintenance"},
	})
	require.NoError(suite.T(), err)

	entries := suite.auditsOn(registry.Nodes, node.ID, "status")
	require.Len(suite.T(), entries, 1)
	assert.Equal(suite.T(), "inservice", entries[0].OldValue)
	assert.Equal(suite.T(), "maintenance", entries[0].NewValue)
}

// TestUpdate_UnknownReference tests that a reference to a missing record is NotFound
func (suite *ServicesTestSuite) TestUpdate_UnknownReference() {
	node := suite.node("aa:bb", "web01", "inservice")

	_, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, node.ID, map[string]any{"status": "on-fire"})

	assert.True(suite.T(), apperr.Is(err, apperr.KindNotFound), "expected not found, got %v", err)
}

// TestUpdate_NaturalKeyIsNeverWritten tests that the generic update path ignores the key
func (suite *ServicesTestSuite) TestUpdate_NaturalKeyIsNeverWritten() {
	node := suite.node("aa:bb", "web01", "inservice")

	updated, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, node.ID, map[string]any{"unique_id": "cc:dd"})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "aa:bb", updated.Get("unique_id"))
	assert.Len(suite.T(), suite.audits(registry.Nodes, node.ID), 1)
}

// TestUpdate_UnknownFieldRejected tests that undeclared fields are unreachable
func (suite *ServicesTestSuite) TestUpdate_UnknownFieldRejected() {
	node := suite.node("aa:bb", "web01", "inservice")

	_, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, node.ID, map[string]any{"is_admin": true})

	assert.True(suite.T(), apperr.Is(err, apperr.KindBadRequest))
}

// TestUpdate_MissingRecord tests updating an id that does not exist
func (suite *ServicesTestSuite) TestUpdate_MissingRecord() {
	_, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, 4242, map[string]any{"name": "x"})

	assert.True(suite.T(), apperr.Is(err, apperr.KindNotFound))
}

// TestUpsert_CreatesThenUpdates tests upsert by natural key
func (suite *ServicesTestSuite) TestUpsert_CreatesThenUpdates() {
	created, err := suite.services.Mutations.Upsert(suite.ctx, registry.NodeGroups, map[string]any{"name": "web", "owner": "team-a"})
	require.NoError(suite.T(), err)

	updated, err := suite.services.Mutations.Upsert(suite.ctx, registry.NodeGroups, map[string]any{"name": "web", "owner": "team-b"})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), created.ID, updated.ID)
	entries := suite.audits(registry.NodeGroups, created.ID)
	require.Len(suite.T(), entries, 2)
	assert.Equal(suite.T(), "owner", entries[1].Field)
	assert.Equal(suite.T(), "team-a", entries[1].OldValue)
	assert.Equal(suite.T(), "team-b", entries[1].NewValue)
}

// TestDelete_WritesTerminalAudit tests that the audit trail outlives the record
func (suite *ServicesTestSuite) TestDelete_WritesTerminalAudit() {
	node := suite.node("aa:bb", "web01", "inservice")
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})
	_, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes",
		&models.AssignmentForm{Action: models.ActionAssign, IDs: []int64{node.ID}})
	require.NoError(suite.T(), err)

	err = suite.services.Mutations.Delete(suite.ctx, registry.Nodes, node.ID)
	require.NoError(suite.T(), err)

	_, err = suite.repos.Records.Get(context.Background(), suite.db, suite.resource(registry.Nodes), node.ID)
	assert.True(suite.T(), apperr.Is(err, apperr.KindNotFound))
	assert.Empty(suite.T(), suite.linked(registry.NodeGroups, group.ID, "nodes"))

	entries := suite.audits(registry.Nodes, node.ID)
	last := entries[len(entries)-1]
	assert.Equal(suite.T(), "unique_id", last.Field)
	assert.Equal(suite.T(), "aa:bb", last.OldValue)
	assert.Equal(suite.T(), models.AuditDeleted, last.NewValue)
}

// TestDelete_DeassignsLinksWithAudit tests that links removed with a record leave history on
// the records that remain
func (suite *ServicesTestSuite) TestDelete_DeassignsLinksWithAudit() {
	node := suite.node("aa:bb", "web01", "inservice")
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})
	env := suite.create(suite.ctx, registry.Tags, map[string]any{"name": "env", "value": "prod"})
	_, err := suite.services.Assignments.Apply(suite.ctx, registry.Nodes, node.ID, "node_groups",
		&models.AssignmentForm{Action: models.ActionAssign, IDs: []int64{group.ID}})
	require.NoError(suite.T(), err)
	_, err = suite.services.Assignments.Apply(suite.ctx, registry.Nodes, node.ID, "tags",
		&models.AssignmentForm{Action: models.ActionAssign, IDs: []int64{env.ID}})
	require.NoError(suite.T(), err)

	require.NoError(suite.T(), suite.services.Mutations.Delete(suite.ctx, registry.Tags, env.ID))

	assert.Empty(suite.T(), suite.linked(registry.Nodes, node.ID, "tags"))
	tags := suite.auditsOn(registry.Nodes, node.ID, "tag")
	require.Len(suite.T(), tags, 2)
	assert.Equal(suite.T(), models.AuditDeassigned, tags[1].OldValue)
	assert.Equal(suite.T(), "env=prod", tags[1].NewValue)

	require.NoError(suite.T(), suite.services.Mutations.Delete(suite.ctx, registry.Nodes, node.ID))

	assert.Empty(suite.T(), suite.linked(registry.NodeGroups, group.ID, "nodes"))
	members := suite.auditsOn(registry.NodeGroups, group.ID, "node")
	require.Len(suite.T(), members, 2)
	assert.Equal(suite.T(), models.AuditDeassigned, members[1].OldValue)
	assert.Equal(suite.T(), "aa:bb", members[1].NewValue)

	// the deleted record's own history still ends with the terminal entry
	entries := suite.audits(registry.Nodes, node.ID)
	assert.Equal(suite.T(), models.AuditDeleted, entries[len(entries)-1].NewValue)
}

// TestDelete_ReferencedRecordConflicts tests that a referenced record cannot be removed
func (suite *ServicesTestSuite) TestDelete_ReferencedRecordConflicts() {
	dc := suite.create(suite.ctx, registry.DataCenters, map[string]any{"name": "ams1"})
	suite.create(suite.ctx, registry.Nodes, map[string]any{"unique_id": "aa:bb", "data_center": "ams1"})

	err := suite.services.Mutations.Delete(suite.ctx, registry.DataCenters, dc.ID)

	assert.True(suite.T(), apperr.Is(err, apperr.KindConflict), "expected conflict, got %v", err)
	assert.Len(suite.T(), suite.audits(registry.DataCenters, dc.ID), 1)
}

// TestAuditRecordsAreImmutable tests that audit resources reject writes
func (suite *ServicesTestSuite) TestAuditRecordsAreImmutable() {
	_, err := suite.services.Mutations.Create(suite.ctx, "nodes_audit", map[string]any{"field": "name"})
	assert.True(suite.T(), apperr.Is(err, apperr.KindNotImplemented))

	err = suite.services.Mutations.Delete(suite.ctx, "nodes_audit", 1)
	assert.True(suite.T(), apperr.Is(err, apperr.KindNotImplemented))
}

// TestUnknownResource tests that unknown resource types are not implemented
func (suite *ServicesTestSuite) TestUnknownResource() {
	_, err := suite.services.Mutations.Create(suite.ctx, "widgets", map[string]any{"name": "x"})

	assert.True(suite.T(), apperr.Is(err, apperr.KindNotImplemented))
}

// TestAuditFailure_RollsBackUpdate tests that no change survives a failed audit write
func (suite *ServicesTestSuite) TestAuditFailure_RollsBackUpdate() {
	node := suite.node("aa:bb", "web01", "inservice")

	failingAudit := mocks.NewMockAuditRepository(suite.T())
	failingAudit.EXPECT().Create(mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	svc := suite.newServices(&repositories.Repositories{
		Records:     suite.repos.Records,
		Assignments: suite.repos.Assignments,
		Audit:       failingAudit,
	})

	_, err := svc.Mutations.Update(suite.ctx, registry.Nodes, node.ID, map[string]any{"name": "web02", "status": "maintenance"})
	require.Error(suite.T(), err)

	reloaded := suite.get(registry.Nodes, node.ID)
	assert.Equal(suite.T(), "web01", reloaded.Get("name"))
	assert.Equal(suite.T(), node.Get("status"), reloaded.Get("status"))
	assert.Len(suite.T(), suite.audits(registry.Nodes, node.ID), 1)
}

// TestAuditFailure_RollsBackCreate tests that a create without its audit is never committed
func (suite *ServicesTestSuite) TestAuditFailure_RollsBackCreate() {
	failingAudit := mocks.NewMockAuditRepository(suite.T())
	failingAudit.EXPECT().Create(mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	svc := suite.newServices(&repositories.Repositories{
		Records:     suite.repos.Records,
		Assignments: suite.repos.Assignments,
		Audit:       failingAudit,
	})

	_, err := svc.Mutations.Create(suite.ctx, registry.Nodes, map[string]any{"unique_id": "aa:bb"})
	require.Error(suite.T(), err)

	_, err = suite.repos.Records.FindByKey(context.Background(), suite.db, suite.resource(registry.Nodes), map[string]any{"unique_id": "aa:bb"})
	assert.True(suite.T(), apperr.Is(err, apperr.KindNotFound))
}

// staleLookups misses the first natural key lookup of one resource type, as if another
// request inserted the record between the lookup and the insert
type staleLookups struct {
	repositories.RecordRepository
	resource string
	missed   bool
}

func (r *staleLookups) FindByKey(ctx context.Context, q database.Querier, res *registry.Resource, key map[string]any) (*models.Record, error) {
	if res.Name == r.resource && !r.missed {
		r.missed = true
		return nil, apperr.NotFound("no %s matches %v", res.Name, key)
	}
	return r.RecordRepository.FindByKey(ctx, q, res, key)
}

// TestUpsert_LostCreateRaceRetriesAsUpdate tests that a duplicate key on create falls back to
// updating the record that won
func (suite *ServicesTestSuite) TestUpsert_LostCreateRaceRetriesAsUpdate() {
	node := suite.node("aa:bb", "web01", "inservice")

	records := &staleLookups{RecordRepository: suite.repos.Records, resource: registry.Nodes}
	svc := suite.newServices(&repositories.Repositories{
		Records:     records,
		Assignments: suite.repos.Assignments,
		Audit:       suite.repos.Audit,
	})

	rec, err := svc.Mutations.Upsert(suite.ctx, registry.Nodes, map[string]any{"unique_id": "AA:BB", "name": "web02"})
	require.NoError(suite.T(), err)
	require.True(suite.T(), records.missed, "the stale lookup was not hit")

	assert.Equal(suite.T(), node.ID, rec.ID)
	assert.Equal(suite.T(), "web02", suite.get(registry.Nodes, node.ID).Get("name"))

	entries := suite.audits(registry.Nodes, node.ID)
	require.Len(suite.T(), entries, 2)
	assert.Equal(suite.T(), models.AuditCreated, entries[0].OldValue)
	assert.Equal(suite.T(), "name", entries[1].Field)
	assert.Equal(suite.T(), "web01", entries[1].OldValue)
	assert.Equal(suite.T(), "web02", entries[1].NewValue)
}
