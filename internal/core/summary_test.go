package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(name string, v float64) Metric {
	return Metric{Name: name, Value: v, Unit: UnitMillis}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		want Category
	}{
		{"Server Action - Simple", CategoryServerAction},
		{"Server Action - With Data", CategoryServerAction},
		{"API Route - GET", CategoryAPIRoute},
		{"API Route - POST", CategoryAPIRoute},
		{"Database API - Queries", CategoryDatabaseAPI},
		{"Database API Route - Batch", CategoryDatabaseAPI},
		{"API Route - Database", CategoryOther},
		{NamePageLoad, CategoryPageLoad},
		{NameTTFB + " - API Route - GET", CategoryPageLoad},
		{NameFCP, CategoryPageLoad},
		{"gRPC Health - Check", CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.name))
		})
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range append(Categories, CategoryOther) {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCategory("web-vitals")
	assert.Error(t, err)
}

func TestFilterAndByCategory(t *testing.T) {
	metrics := []Metric{
		ms("API Route - GET", 1),
		ms("Server Action - Simple", 2),
		ms("API Route - POST", 3),
		ms("Database API - Queries", 4),
	}

	assert.Equal(t, []Metric{metrics[0], metrics[2]}, ByCategory(metrics, CategoryAPIRoute))
	assert.Equal(t, []Metric{metrics[3]}, ByCategory(metrics, CategoryDatabaseAPI))
	assert.Empty(t, ByCategory(metrics, CategoryPageLoad))

	assert.Equal(t, []Metric{metrics[2]}, Filter(metrics, "POST"))
	assert.Equal(t, metrics, Filter(metrics, ""))
	assert.Equal(t, []Metric{metrics[0], metrics[2], metrics[3]}, Filter(metrics, "API"))
}

func TestRecent(t *testing.T) {
	metrics := []Metric{ms("a", 1), ms("b", 2), ms("c", 3)}

	assert.Equal(t, metrics[1:], Recent(metrics, 2))
	assert.Equal(t, metrics, Recent(metrics, 10))
	assert.Equal(t, metrics, Recent(metrics, 0))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	metrics := []Metric{
		ms("a", 120),
		{Name: "a", Value: 0.05, Unit: UnitSeconds},
		ms("a", 280),
	}
	s := Summarize(metrics)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, metrics[2], s.Latest)
	assert.InDelta(t, 150.0, s.Mean, 1e-9)
	assert.InDelta(t, 50.0, s.Min, 1e-9)
	assert.Equal(t, 280.0, s.Max)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "0.00ms", FormatValue(0))
	assert.Equal(t, "45.37ms", FormatValue(45.37))
	assert.Equal(t, "999.99ms", FormatValue(999.99))
	assert.Equal(t, "1.00s", FormatValue(1000))
	assert.Equal(t, "2.35s", FormatValue(2345.6))
}

func TestRate(t *testing.T) {
	assert.Equal(t, RatingGood, Rate(99.99))
	assert.Equal(t, RatingNeedsImprovement, Rate(100))
	assert.Equal(t, RatingNeedsImprovement, Rate(299.99))
	assert.Equal(t, RatingPoor, Rate(300))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []Metric{
		{Name: "API Route - GET", Value: 12.5, Unit: UnitMillis, Timestamp: 1700000000000, Region: "iad1"},
		{Name: `quoted, "name"`, Value: 3, Unit: UnitMillis, Timestamp: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "name,value,unit,timestamp,region\n"+
		"API Route - GET,12.50,ms,1700000000000,iad1\n"+
		"\"quoted, \"\"name\"\"\",3.00,ms,1,\n", buf.String())
}
