package dashboard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/psantana5/sentiment-pulse/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStats() models.Stats {
	return models.Stats{
		GlobalCounts: models.SentimentCounts{"Positivo": 6, "Neutro": 3, "Negativo": 1},
		ByPlatform: map[string]models.SentimentCounts{
			"twitter": {"Positivo": 4, "Negativo": 1},
			"reddit":  {"Positivo": 2, "Neutro": 3},
		},
	}
}

func TestNewCharts_RendersBothCharts(t *testing.T) {
	charts := NewCharts(sampleStats())
	defer charts.Close()

	global, err := charts.SVG(ChartGlobal)
	require.NoError(t, err)
	assert.Contains(t, string(global), "<svg")
	assert.Contains(t, string(global), "#10b981")
	assert.Contains(t, string(global), "#ef4444")
	assert.Contains(t, string(global), "Positivo (6)")

	platform, err := charts.SVG(ChartPlatform)
	require.NoError(t, err)
	assert.Contains(t, string(platform), "Twitter")
	assert.Contains(t, string(platform), "Reddit")
	assert.Less(t, strings.Index(string(platform), "Reddit"), strings.Index(string(platform), "Twitter"))
}

func TestNewCharts_EmptyStats(t *testing.T) {
	charts := NewCharts(models.Stats{})
	defer charts.Close()

	for _, name := range ChartNames {
		data, err := charts.SVG(name)
		require.NoError(t, err)
		assert.Contains(t, string(data), "No data", name)
	}
}

func TestCharts_SVGReturnsCopy(t *testing.T) {
	charts := NewCharts(sampleStats())
	defer charts.Close()

	first, err := charts.SVG(ChartGlobal)
	require.NoError(t, err)
	first[0] = 'X'

	second, err := charts.SVG(ChartGlobal)
	require.NoError(t, err)
	assert.NotEqual(t, first[0], second[0])
}

func TestCharts_UnknownName(t *testing.T) {
	charts := NewCharts(sampleStats())
	defer charts.Close()

	_, err := charts.SVG("pie")
	assert.ErrorIs(t, err, ErrUnknownChart)
}

func TestCharts_CloseDisposes(t *testing.T) {
	charts := NewCharts(sampleStats())
	assert.False(t, charts.Closed())

	require.NoError(t, charts.Close())
	assert.True(t, charts.Closed())

	_, err := charts.SVG(ChartGlobal)
	assert.ErrorIs(t, err, ErrChartsClosed)

	_, err = charts.WriteFiles(t.TempDir())
	assert.ErrorIs(t, err, ErrChartsClosed)

	assert.NoError(t, charts.Close())
}

func TestCharts_WriteFiles(t *testing.T) {
	charts := NewCharts(sampleStats())
	defer charts.Close()

	dir := filepath.Join(t.TempDir(), "charts")
	paths, err := charts.WriteFiles(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	for _, name := range ChartNames {
		data, err := os.ReadFile(filepath.Join(dir, name+".svg"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "</svg>")
	}
}
