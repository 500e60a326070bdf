package services

import (
	"context"
	"strconv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/userctx"
)

// fleet creates 3 inservice, 2 maintenance and 1 decommissioned node
func (suite *ServicesTestSuite) fleet() {
	statuses := []string{"inservice", "inservice", "inservice", "maintenance", "maintenance", "decommissioned"}
	for i, status := range statuses {
		n := strconv.Itoa(i + 1)
		suite.node("aa:0"+n, "web0"+n, status)
	}
}

func result(suite *ServicesTestSuite, envelope *models.Envelope, i int) map[string]any {
	require.Greater(suite.T(), len(envelope.Results), i)
	out, ok := envelope.Results[i].(map[string]any)
	require.True(suite.T(), ok)
	return out
}

// TestSearch_FuzzyStatusAlternation tests the multi-valued fuzzy reference filter
func (suite *ServicesTestSuite) TestSearch_FuzzyStatusAlternation() {
	suite.fleet()

	envelope, err := suite.services.Query.Search(suite.ctx, registry.Nodes, map[string]string{"status": "inservice,maintenance"})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 5, envelope.Meta.Total)
	assert.Equal(suite.T(), 5, envelope.Meta.ResultCount)
	assert.Equal(suite.T(), 200, envelope.HTTPStatus.Code)
}

// TestSearch_ExcludedFilter tests negated filters
func (suite *ServicesTestSuite) TestSearch_ExcludedFilter() {
	suite.fleet()

	envelope, err := suite.services.Query.Search(suite.ctx, registry.Nodes, map[string]string{"ex_status": "inservice", "exact_get": "true"})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 3, envelope.Meta.Total)
}

// TestSearch_Pagination tests perpage and start
func (suite *ServicesTestSuite) TestSearch_Pagination() {
	suite.fleet()

	envelope, err := suite.services.Query.Search(suite.ctx, registry.Nodes, map[string]string{"perpage": "4", "start": "4"})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 6, envelope.Meta.Total)
	assert.Equal(suite.T(), 2, envelope.Meta.ResultCount)
	assert.Equal(suite.T(), "web05", result(suite, envelope, 0)["name"])
}

// TestSearch_DefaultPageSize tests that only UI callers get a default page size
func (suite *ServicesTestSuite) TestSearch_DefaultPageSize() {
	suite.fleet()

	api, err := suite.services.Query.Search(suite.ctx, registry.Nodes, map[string]string{})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 6, api.Meta.ResultCount)

	ui := userctx.SetActor(context.Background(), userctx.Actor{Name: "alice", UI: true})
	page, err := suite.services.Query.Search(ui, registry.Nodes, map[string]string{})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 6, page.Meta.Total)
	assert.Equal(suite.T(), 2, page.Meta.ResultCount)
}

// TestSearch_InvalidParameters tests malformed meta parameters
func (suite *ServicesTestSuite) TestSearch_InvalidParameters() {
	tests := []map[string]string{
		{"perpage": "many"},
		{"start": "-1"},
		{"exact_get": "maybe"},
		{"fields": "name,password"},
		{"last_registered": "2024-01-01"},
		{"name": "web("},
	}

	for _, params := range tests {
		_, err := suite.services.Query.Search(suite.ctx, registry.Nodes, params)
		assert.True(suite.T(), apperr.Is(err, apperr.KindBadRequest), "%v: expected bad request, got %v", params, err)
	}
}

// TestSearch_UnknownResource tests searching an unknown resource type
func (suite *ServicesTestSuite) TestSearch_UnknownResource() {
	_, err := suite.services.Query.Search(suite.ctx, "widgets", map[string]string{})

	assert.True(suite.T(), apperr.Is(err, apperr.KindNotImplemented))
}

// TestSearch_RendersFields tests field selection and reference rendering
func (suite *ServicesTestSuite) TestSearch_RendersFields() {
	node := suite.node("aa:bb", "web01", "inservice")
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "web"})
	_, err := suite.services.Assignments.Apply(suite.ctx, registry.Nodes, node.ID, "node_groups", assign(group.ID))
	require.NoError(suite.T(), err)

	envelope, err := suite.services.Query.Search(suite.ctx, registry.Nodes, map[string]string{})
	require.NoError(suite.T(), err)
	row := result(suite, envelope, 0)
	assert.Equal(suite.T(), node.ID, row["id"])
	assert.Equal(suite.T(), "web01", row["name"])
	assert.NotContains(suite.T(), row, "serial_number")
	status, ok := row["status"].(*models.Ref)
	require.True(suite.T(), ok)
	assert.Equal(suite.T(), "inservice", status.Label)

	envelope, err = suite.services.Query.Search(suite.ctx, registry.Nodes, map[string]string{"fields": "all"})
	require.NoError(suite.T(), err)
	row = result(suite, envelope, 0)
	assert.Contains(suite.T(), row, "serial_number")
	assert.Equal(suite.T(), []models.Ref{{ID: group.ID, Label: "web"}}, row["node_groups"])
	assert.Nil(suite.T(), row["hardware_profile"])

	envelope, err = suite.services.Query.Search(suite.ctx, registry.Nodes, map[string]string{"fields": "name"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), map[string]any{"id": node.ID, "name": "web01"}, result(suite, envelope, 0))
}

// TestSearch_CollectionPath tests filtering through a relationship
func (suite *ServicesTestSuite) TestSearch_CollectionPath() {
	suite.fleet()
	group := suite.create(suite.ctx, registry.NodeGroups, map[string]any{"name": "databases"})
	node := suite.node("db:01", "db01", "inservice")
	_, err := suite.services.Assignments.Apply(suite.ctx, registry.NodeGroups, group.ID, "nodes", assign(node.ID))
	require.NoError(suite.T(), err)

	envelope, err := suite.services.Query.Search(suite.ctx, registry.Nodes, map[string]string{"node_groups.name": "data"})
	require.NoError(suite.T(), err)

	require.Equal(suite.T(), 1, envelope.Meta.Total)
	assert.Equal(suite.T(), "db01", result(suite, envelope, 0)["name"])
}

// TestSearch_AuditResource tests querying audit records through the filter engine
func (suite *ServicesTestSuite) TestSearch_AuditResource() {
	node := suite.node("aa:bb", "web01", "inservice")
	_, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, node.ID, map[string]any{"name": "web02"})
	require.NoError(suite.T(), err)

	envelope, err := suite.services.Query.Search(suite.ctx, "nodes_audit", map[string]string{
		"object_id": strconv.FormatInt(node.ID, 10), "field": "name", "exact_get": "true",
	})
	require.NoError(suite.T(), err)

	require.Equal(suite.T(), 1, envelope.Meta.Total)
	row := result(suite, envelope, 0)
	assert.Equal(suite.T(), "web01", row["old_value"])
	assert.Equal(suite.T(), "web02", row["new_value"])
}

// TestGet tests lookup by id
func (suite *ServicesTestSuite) TestGet() {
	node := suite.node("aa:bb", "web01", "inservice")

	envelope, err := suite.services.Query.Get(suite.ctx, registry.Nodes, node.ID, "")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, envelope.Meta.Total)
	assert.Equal(suite.T(), "web01", result(suite, envelope, 0)["name"])

	_, err = suite.services.Query.Get(suite.ctx, registry.Nodes, 4242, "")
	assert.True(suite.T(), apperr.Is(err, apperr.KindNotFound))
}

// TestGetOne tests single-object lookups by filter
func (suite *ServicesTestSuite) TestGetOne() {
	suite.fleet()

	envelope, err := suite.services.Query.GetOne(suite.ctx, registry.Nodes, map[string]string{"name": "web02", "exact_get": "true"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "aa:02", result(suite, envelope, 0)["unique_id"])

	_, err = suite.services.Query.GetOne(suite.ctx, registry.Nodes, map[string]string{"name": "web"})
	assert.True(suite.T(), apperr.Is(err, apperr.KindInternal), "expected ambiguity error, got %v", err)

	_, err = suite.services.Query.GetOne(suite.ctx, registry.Nodes, map[string]string{"name": "db"})
	assert.True(suite.T(), apperr.Is(err, apperr.KindNotFound))
}

// TestHistory tests the audit trail of one object, including after deletion
func (suite *ServicesTestSuite) TestHistory() {
	node := suite.node("aa:bb", "web01", "inservice")
	_, err := suite.services.Mutations.Update(suite.ctx, registry.Nodes, node.ID, map[string]any{"name": "web02"})
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.services.Mutations.Delete(suite.ctx, registry.Nodes, node.ID))

	envelope, err := suite.services.Query.History(suite.ctx, registry.Nodes, node.ID)
	require.NoError(suite.T(), err)

	require.Equal(suite.T(), 3, envelope.Meta.Total)
	last, ok := envelope.Results[2].(models.AuditRecord)
	require.True(suite.T(), ok)
	assert.Equal(suite.T(), models.AuditDeleted, last.NewValue)
}
