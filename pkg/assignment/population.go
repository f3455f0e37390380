package assignment

import (
	"context"
	"fmt"
	"strings"

	"github.com/tenantdesk/accesskit/pkg/observability"
)

const (
	// DefaultPopulationLimit caps a population load when the caller gives no limit
	DefaultPopulationLimit = 1000

	// MaxPopulationLimit is the largest limit a caller may ask for
	MaxPopulationLimit = 10000
)

// DefaultExcludedRoles are administrative roles that are never assignable
// through this flow
var DefaultExcludedRoles = []string{"owner", "platform_operator"}

// PopulationQuery is a server-side filtered population read
type PopulationQuery struct {
	OrganizationID string
	// Pattern is an escaped ILIKE pattern matched against first name, last name
	// or email
	Pattern       string
	ExcludedRoles []string
	Limit         int
}

// PopulationReader reads assignable accounts ordered by last name
type PopulationReader interface {
	ReadAssignablePopulation(ctx context.Context, query PopulationQuery) ([]Account, error)
}

// Population is a loaded set of assignable accounts
type Population struct {
	Accounts []Account
	Limit    int
	// Truncated is set when the load returned exactly Limit accounts, so more
	// may exist
	Truncated      bool
	organizationID string
}

// Warning returns a *PopulationTruncatedWarning for a truncated population, else nil
func (p *Population) Warning() error {
	if !p.Truncated {
		return nil
	}
	return &PopulationTruncatedWarning{OrganizationID: p.organizationID, Limit: p.Limit}
}

// LoaderConfig configures a Loader. Zero values select the defaults.
type LoaderConfig struct {
	ExcludedRoles []string
	DefaultLimit  int
	MaxLimit      int
}

// Loader loads assignable populations
type Loader struct {
	reader       PopulationReader
	excluded     []string
	defaultLimit int
	maxLimit     int
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewLoader creates a population loader
func NewLoader(reader PopulationReader, cfg LoaderConfig, logger *observability.Logger) *Loader {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.ExcludedRoles == nil {
		cfg.ExcludedRoles = DefaultExcludedRoles
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultPopulationLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxPopulationLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	return &Loader{
		reader:       reader,
		excluded:     cfg.ExcludedRoles,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		logger:       logger,
	}
}

// WithMetrics records population loads on m
func (l *Loader) WithMetrics(m *observability.Metrics) *Loader {
	l.metrics = m
	return l
}

// EffectiveLimit maps a requested limit to the one applied
func (l *Loader) EffectiveLimit(limit int) int {
	switch {
	case limit <= 0:
		return l.defaultLimit
	case limit > l.maxLimit:
		return l.maxLimit
	default:
		return limit
	}
}

// Load reads the assignable accounts of an organization. A non-empty search
// matches first name, last name or email case-insensitively.
func (l *Loader) Load(ctx context.Context, organizationID, search string, limit int) (*Population, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, &ValidationError{Field: "organization_id", Message: "is required"}
	}

	limit = l.EffectiveLimit(limit)
	accounts, err := l.reader.ReadAssignablePopulation(ctx, PopulationQuery{
		OrganizationID: organizationID,
		Pattern:        SearchPattern(search),
		ExcludedRoles:  l.excluded,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load population: %w", err)
	}

	population := &Population{
		Accounts:       accounts,
		Limit:          limit,
		Truncated:      len(accounts) >= limit,
		organizationID: organizationID,
	}
	l.metrics.RecordPopulationLoad(len(accounts), population.Truncated)

	if warning := population.Warning(); warning != nil {
		l.logger.WithFields(map[string]any{
			"organization_id": organizationID,
			"limit":           limit,
		}).Warn(warning.Error())
	}

	return population, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchPattern turns a search term into an ILIKE pattern with the wildcard
// characters of the term escaped. An empty term matches everything.
func SearchPattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return "%"
	}
	return "%" + likeEscaper.Replace(search) + "%"
}
