package services

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/filter"
	"github.com/blogem/cmdb/metrics"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/repositories"
	"github.com/blogem/cmdb/tracing"
	"github.com/blogem/cmdb/userctx"
)

// Query parameters understood besides filters
const (
	ParamExact   = "exact_get"
	ParamFields  = "fields"
	ParamStart   = "start"
	ParamPerPage = "perpage"
)

// QueryService defines the read side: filtered search, single lookups and audit history
type QueryService interface {
	Search(ctx context.Context, resource string, params map[string]string) (*models.Envelope, error)
	Get(ctx context.Context, resource string, id int64, fields string) (*models.Envelope, error)
	GetOne(ctx context.Context, resource string, params map[string]string) (*models.Envelope, error)
	History(ctx context.Context, resource string, id int64) (*models.Envelope, error)
}

// querier implements QueryService
type querier struct {
	db          *database.DB
	reg         *registry.Registry
	compiler    *filter.Compiler
	records     repositories.RecordRepository
	assignments repositories.AssignmentRepository
	audits      repositories.AuditRepository
	resolver    *resolver
	metrics     *metrics.Metrics
	logger      *zap.Logger
	uiPerPage   int
}

// request is a parsed search request
type request struct {
	exact  bool
	fields string
	page   models.Page
}

func (q *querier) parse(ctx context.Context, params map[string]string) (request, error) {
	req := request{fields: params[ParamFields]}

	if raw, ok := params[ParamExact]; ok && raw != "" {
		exact, err := strconv.ParseBool(raw)
		if err != nil {
			return req, apperr.BadRequest("%s must be a boolean, got %q", ParamExact, raw)
		}
		req.exact = exact
	}

	if raw, ok := params[ParamStart]; ok && raw != "" {
		start, err := strconv.Atoi(raw)
		if err != nil || start < 0 {
			return req, apperr.BadRequest("%s must be a non-negative integer, got %q", ParamStart, raw)
		}
		req.page.Offset = start
	}

	if raw, ok := params[ParamPerPage]; ok && raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil || perPage < 0 {
			return req, apperr.BadRequest("%s must be a non-negative integer, got %q", ParamPerPage, raw)
		}
		req.page.Limit = perPage
	} else if userctx.GetActor(ctx).UI {
		req.page.Limit = q.uiPerPage
	}

	return req, nil
}

// Search returns one page of records matching the filter parameters
func (q *querier) Search(ctx context.Context, resource string, params map[string]string) (*models.Envelope, error) {
	ctx, span := tracing.Tracer().Start(ctx, "services.Search")
	span.SetAttributes(attribute.String("resource", resource))
	defer span.End()
	defer q.metrics.ObserveQuery(resource, time.Now())

	res, err := q.reg.Lookup(resource)
	if err != nil {
		return nil, err
	}
	req, err := q.parse(ctx, params)
	if err != nil {
		return nil, err
	}
	fields, err := fieldsFor(res, req.fields)
	if err != nil {
		return nil, err
	}

	where, err := q.compiler.Compile(res, params, filter.Options{Exact: req.exact, Ignore: filter.MetaKeys})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.StringSlice("filters", where.Keys()))

	records, total, err := q.records.Search(ctx, q.db, res, where, req.page)
	if err != nil {
		return nil, err
	}

	results, err := q.render(ctx, res, records, fields)
	if err != nil {
		return nil, err
	}

	q.logger.Debug("search",
		zap.String("resource", res.Name), zap.Strings("filters", where.Keys()),
		zap.Int("total", total), zap.Int("results", len(results)))
	return models.NewEnvelope(total, results), nil
}

// Get returns the record with the given id
func (q *querier) Get(ctx context.Context, resource string, id int64, fieldsParam string) (*models.Envelope, error) {
	res, err := q.reg.Lookup(resource)
	if err != nil {
		return nil, err
	}
	fields, err := fieldsFor(res, fieldsParam)
	if err != nil {
		return nil, err
	}

	rec, err := q.records.Get(ctx, q.db, res, id)
	if err != nil {
		return nil, err
	}
	results, err := q.render(ctx, res, []*models.Record{rec}, fields)
	if err != nil {
		return nil, err
	}
	return models.NewEnvelope(1, results), nil
}

// GetOne returns the only record matching the filter parameters. No match is NotFound and
// more than one match is an error.
func (q *querier) GetOne(ctx context.Context, resource string, params map[string]string) (*models.Envelope, error) {
	res, err := q.reg.Lookup(resource)
	if err != nil {
		return nil, err
	}
	req, err := q.parse(ctx, params)
	if err != nil {
		return nil, err
	}
	fields, err := fieldsFor(res, req.fields)
	if err != nil {
		return nil, err
	}

	where, err := q.compiler.Compile(res, params, filter.Options{Exact: req.exact, Ignore: filter.MetaKeys})
	if err != nil {
		return nil, err
	}
	records, total, err := q.records.Search(ctx, q.db, res, where, models.Page{Limit: 2})
	if err != nil {
		return nil, err
	}

	switch {
	case total == 0:
		return nil, apperr.NotFound("no %s matches %v", res.Name, where.Keys())
	case total > 1:
		return nil, apperr.Internal(nil, "%d %s records match %v, expected one", total, res.Name, where.Keys())
	}

	results, err := q.render(ctx, res, records, fields)
	if err != nil {
		return nil, err
	}
	return models.NewEnvelope(1, results), nil
}

// History returns the audit records of one object, oldest first. History outlives the object.
func (q *querier) History(ctx context.Context, resource string, id int64) (*models.Envelope, error) {
	res, err := q.reg.Lookup(resource)
	if err != nil {
		return nil, err
	}
	if res.Audit {
		return nil, apperr.NotImplemented("audit records have no history")
	}

	entries, err := q.audits.ForObject(ctx, q.db, res, id)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(entries))
	for i := range entries {
		results[i] = entries[i]
	}
	return models.NewEnvelope(len(results), results), nil
}
