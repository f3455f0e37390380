package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenantdesk/accesskit/pkg/observability"
)

type fakeReader struct {
	queries  []PopulationQuery
	accounts []Account
	err      error
}

func (r *fakeReader) ReadAssignablePopulation(ctx context.Context, q PopulationQuery) ([]Account, error) {
	r.queries = append(r.queries, q)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.accounts) > q.Limit {
		return r.accounts[:q.Limit], nil
	}
	return r.accounts, nil
}

func accounts(n int) []Account {
	list := make([]Account, n)
	for i, id := range userIDs("u", n) {
		list[i] = Account{UserID: id, OrganizationID: "org1"}
	}
	return list
}

func TestLoaderLimits(t *testing.T) {
	reader := &fakeReader{}
	loader := NewLoader(reader, LoaderConfig{}, nil)

	tests := []struct {
		name      string
		requested int
		want      int
	}{
		{"default when unset", 0, DefaultPopulationLimit},
		{"default when negative", -5, DefaultPopulationLimit},
		{"requested within bounds", 50, 50},
		{"capped at maximum", MaxPopulationLimit + 1, MaxPopulationLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loader.EffectiveLimit(tt.requested))
		})
	}

	custom := NewLoader(reader, LoaderConfig{DefaultLimit: 500, MaxLimit: 200}, nil)
	assert.Equal(t, 200, custom.EffectiveLimit(0), "default never exceeds the maximum")
}

func TestLoaderLoad(t *testing.T) {
	reader := &fakeReader{accounts: accounts(3)}
	loader := NewLoader(reader, LoaderConfig{}, nil)

	population, err := loader.Load(context.Background(), "org1", "  smith ", 10)
	require.NoError(t, err)
	assert.Len(t, population.Accounts, 3)
	assert.False(t, population.Truncated)
	assert.NoError(t, population.Warning())

	require.Len(t, reader.queries, 1)
	q := reader.queries[0]
	assert.Equal(t, "org1", q.OrganizationID)
	assert.Equal(t, "%smith%", q.Pattern)
	assert.Equal(t, DefaultExcludedRoles, q.ExcludedRoles)
	assert.Equal(t, 10, q.Limit)
}

func TestLoaderTruncation(t *testing.T) {
	reader := &fakeReader{accounts: accounts(5)}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	loader := NewLoader(reader, LoaderConfig{ExcludedRoles: []string{"owner"}}, nil).WithMetrics(metrics)

	population, err := loader.Load(context.Background(), "org1", "", 5)
	require.NoError(t, err)
	assert.True(t, population.Truncated, "a result of exactly limit may be truncated")

	var warning *PopulationTruncatedWarning
	require.True(t, errors.As(population.Warning(), &warning))
	assert.Equal(t, "org1", warning.OrganizationID)
	assert.Equal(t, 5, warning.Limit)
	assert.Equal(t, []string{"owner"}, reader.queries[0].ExcludedRoles)

	_, err = loader.Load(context.Background(), "org1", "", 10)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PopulationLoadsTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PopulationLoadsTotal.WithLabelValues("false")))
}

func TestLoaderErrors(t *testing.T) {
	t.Run("organization required", func(t *testing.T) {
		loader := NewLoader(&fakeReader{}, LoaderConfig{}, nil)
		_, err := loader.Load(context.Background(), " ", "", 0)
		assert.True(t, IsValidation(err))
	})

	t.Run("store failure propagates", func(t *testing.T) {
		cause := errors.New("timeout")
		loader := NewLoader(&fakeReader{err: cause}, LoaderConfig{}, nil)
		_, err := loader.Load(context.Background(), "org1", "", 0)
		assert.ErrorIs(t, err, cause)
	})
}

func TestSearchPattern(t *testing.T) {
	tests := []struct {
		search string
		want   string
	}{
		{"", "%"},
		{"   ", "%"},
		{"Ana", "%Ana%"},
		{"50%", `%50\%%`},
		{"a_b", `%a\_b%`},
		{`c:\x`, `%c:\\x%`},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			assert.Equal(t, tt.want, SearchPattern(tt.search))
		})
	}
}
