package template

import (
	"testing"
	"time"

	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVars() Variables {
	return Variables{
		StartDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
		ExperimentID: "exp_checkout",
		Phase:        &Phase{Index: 2},
		CustomFields: map[string]any{"team": "growth"},
		TemplateVariables: map[string]string{
			"eventName":   "purchase",
			"valueColumn": "amount",
		},
	}
}

func TestCompileVerbatim(t *testing.T) {
	raw := "SELECT * FROM events WHERE a = '{x}'"
	res, err := Compile(raw, Variables{})
	require.NoError(t, err)
	assert.Equal(t, raw, res)
}

func TestCompileVariables(t *testing.T) {
	res, err := Compile("SELECT * FROM events_{{startYear}}{{ startMonth }} "+
		"WHERE ts >= '{{startDate}}' AND ts <= '{{ endDate }}' "+
		"AND exp = '{{experimentId}}' AND phase = {{phase.index}} "+
		"AND team = '{{customFields.team}}' AND event = '{{templateVariables.eventName}}' "+
		"AND {{valueColumn}} > 0", testVars())
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM events_202401 "+
		"WHERE ts >= '2024-01-01 00:00:00' AND ts <= '2024-01-31 23:59:59' "+
		"AND exp = 'exp_checkout' AND phase = 2 "+
		"AND team = 'growth' AND event = 'purchase' "+
		"AND amount > 0", res)
}

func TestCompileHelpers(t *testing.T) {
	res, err := Compile(`SELECT * FROM events_{{dateInZone "20060102" startDateTime "UTC"}} WHERE e = '{{upper eventName}}'`,
		testVars())
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM events_20240101 WHERE e = 'PURCHASE'", res)
}

func TestCompileDefaultExperimentID(t *testing.T) {
	res, err := Compile("exp LIKE '{{experimentId}}'", Variables{StartDate: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "exp LIKE '%'", res)
}

func TestCompileUnknownVariable(t *testing.T) {
	_, err := Compile("SELECT {{unknownThing}}", testVars())
	assert.True(t, custom_errors.IsConfigError(err))

	_, err = Compile("SELECT '{{customFields.missing}}'", testVars())
	assert.True(t, custom_errors.IsConfigError(err))
}
