package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Category groups metrics the way the dashboard panels do.
type Category string

const (
	CategoryPageLoad     Category = "page-load"
	CategoryServerAction Category = "server-action"
	CategoryAPIRoute     Category = "api-route"
	CategoryDatabaseAPI  Category = "database-api"
	CategoryOther        Category = "other"
)

// Well-known metric names produced outside of named probes.
const (
	NamePageLoad = "Page Load"
	NameTTFB     = "Time to First Byte (TTFB)"
	NameFCP      = "First Contentful Paint (FCP)"
)

// Categories lists the named categories in panel order.
var Categories = []Category{CategoryPageLoad, CategoryServerAction, CategoryAPIRoute, CategoryDatabaseAPI}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	if s == string(CategoryOther) {
		return CategoryOther, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// CategoryOf classifies a metric name. Page-load names win over the others so a
// TTFB metric taken while probing an API route stays with the page metrics.
func CategoryOf(name string) Category {
	switch {
	case strings.HasPrefix(name, NamePageLoad),
		strings.HasPrefix(name, NameTTFB),
		strings.HasPrefix(name, NameFCP):
		return CategoryPageLoad
	case strings.Contains(name, "Database API"):
		return CategoryDatabaseAPI
	case strings.Contains(name, "Server Action"):
		return CategoryServerAction
	case strings.Contains(name, "API Route") && !strings.Contains(name, "Database"):
		return CategoryAPIRoute
	default:
		return CategoryOther
	}
}

// Filter keeps the metrics whose name contains substr. An empty substr keeps all.
func Filter(metrics []Metric, substr string) []Metric {
	out := make([]Metric, 0, len(metrics))
	for _, m := range metrics {
		if strings.Contains(m.Name, substr) {
			out = append(out, m)
		}
	}
	return out
}

func ByCategory(metrics []Metric, c Category) []Metric {
	out := make([]Metric, 0, len(metrics))
	for _, m := range metrics {
		if CategoryOf(m.Name) == c {
			out = append(out, m)
		}
	}
	return out
}

// Recent returns at most the last n metrics.
func Recent(metrics []Metric, n int) []Metric {
	if n <= 0 || len(metrics) <= n {
		return metrics
	}
	return metrics[len(metrics)-n:]
}

// Summary aggregates a subset of metrics. Values are milliseconds.
type Summary struct {
	Count  int
	Latest Metric
	Mean   float64
	Min    float64
	Max    float64
}

func Summarize(metrics []Metric) Summary {
	if len(metrics) == 0 {
		return Summary{}
	}
	s := Summary{
		Count:  len(metrics),
		Latest: metrics[len(metrics)-1],
		Min:    metrics[0].Millis(),
		Max:    metrics[0].Millis(),
	}
	var sum float64
	for _, m := range metrics {
		v := m.Millis()
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = sum / float64(len(metrics))
	return s
}

// FormatValue renders a millisecond value, switching to seconds from 1000ms up.
func FormatValue(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.2fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

func Rate(ms float64) Rating {
	switch {
	case ms < 100:
		return RatingGood
	case ms < 300:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

var csvHeader = []string{"name", "value", "unit", "timestamp", "region"}

// WriteCSV writes one row per metric after a header row.
func WriteCSV(w io.Writer, metrics []Metric) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, m := range metrics {
		row := []string{
			m.Name,
			strconv.FormatFloat(m.Value, 'f', 2, 64),
			string(m.Unit),
			strconv.FormatInt(m.Timestamp, 10),
			m.Region,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
