package services

import (
	"time"

	"go.uber.org/zap"

	"github.com/blogem/cmdb/cache"
	"github.com/blogem/cmdb/config"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/events"
	"github.com/blogem/cmdb/filter"
	"github.com/blogem/cmdb/metrics"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/repositories"
)

// Services holds all service instances
type Services struct {
	Query        QueryService
	Mutations    MutationService
	Assignments  AssignmentService
	Registration RegistrationService
	Cascade      *CascadePolicy
}

// Dependencies are the collaborators shared by the services. Cache, Events, Metrics and Now
// are optional.
type Dependencies struct {
	DB       *database.DB
	Registry *registry.Registry
	Repos    *repositories.Repositories
	Compiler *filter.Compiler
	Cache    cache.Store
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Limits   config.LimitsConfig
	Cascade  []config.CascadeRule
	// ProtectedTags maps tag names to the groups allowed to change them
	ProtectedTags map[string][]string
	Now           func() time.Time
}

// NewServices creates and initializes all service instances
func NewServices(deps Dependencies) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	compiler := deps.Compiler
	if compiler == nil {
		compiler = filter.NewCompiler(deps.Registry, deps.DB.Dialect, logger)
	}

	resolver := newResolver(deps.Registry, deps.Repos.Records, deps.Cache)
	cascade := NewCascadePolicy(deps.Cascade, deps.Limits.CascadeDepth, deps.Registry, deps.Repos.Records, logger.Named("cascade"))

	m := &mutator{
		db:       deps.DB,
		reg:      deps.Registry,
		records:  deps.Repos.Records,
		audits:   deps.Repos.Audit,
		resolver: resolver,
		guard:    &tagGuard{protected: deps.ProtectedTags},
		cascade:  cascade,
		events:   publisher,
		metrics:  deps.Metrics,
		logger:   logger.Named("mutations"),
		now:      now,
	}
	a := newAssigner(m, deps.Repos.Assignments, deps.Limits.MaxBulkItems)
	m.links = a

	return &Services{
		Query: &querier{
			db:          deps.DB,
			reg:         deps.Registry,
			compiler:    compiler,
			records:     deps.Repos.Records,
			assignments: deps.Repos.Assignments,
			audits:      deps.Repos.Audit,
			resolver:    resolver,
			metrics:     deps.Metrics,
			logger:      logger.Named("query"),
			uiPerPage:   deps.Limits.UIPerPage,
		},
		Mutations:    m,
		Assignments:  a,
		Registration: newRegistrar(m, a),
		Cascade:      cascade,
	}
}
