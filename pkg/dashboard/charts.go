package dashboard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	svg "github.com/ajstarks/svgo"
	"github.com/psantana5/sentiment-pulse/pkg/models"
)

// Chart names
const (
	ChartGlobal   = "global"
	ChartPlatform = "platform"
)

// ChartNames lists every chart of a set in display order
var ChartNames = []string{ChartGlobal, ChartPlatform}

var (
	// ErrChartsClosed is returned when a disposed chart set is used
	ErrChartsClosed = errors.New("charts have been disposed")

	// ErrUnknownChart is returned for a name not in ChartNames
	ErrUnknownChart = errors.New("unknown chart")
)

var sentimentColors = map[string]string{
	models.SentimentPositive: "#10b981",
	models.SentimentNeutral:  "#94a3b8",
	models.SentimentNegative: "#ef4444",
}

const (
	colorText  = "#cbd5e1"
	colorMuted = "#94a3b8"
	colorGrid  = "#334155"
	fontStyle  = "font-family:sans-serif"
)

// Charts is one rendered chart set. It belongs to a single result and must
// be closed before the next set is built.
type Charts struct {
	mu     sync.Mutex
	svgs   map[string][]byte
	closed bool
}

// NewCharts renders the global doughnut and the per-platform stacked bar
func NewCharts(stats models.Stats) *Charts {
	var global, platform bytes.Buffer
	drawDoughnut(&global, stats.GlobalCounts)
	drawStackedBar(&platform, stats.ByPlatform)

	return &Charts{
		svgs: map[string][]byte{
			ChartGlobal:   global.Bytes(),
			ChartPlatform: platform.Bytes(),
		},
	}
}

// SVG returns a copy of the named chart
func (c *Charts) SVG(name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrChartsClosed
	}
	data, ok := c.svgs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChart, name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFiles writes every chart to dir as <name>.svg and returns the paths
func (c *Charts) WriteFiles(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chart directory: %w", err)
	}

	paths := make([]string, 0, len(ChartNames))
	for _, name := range ChartNames {
		data, err := c.SVG(name)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, name+".svg")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return paths, fmt.Errorf("failed to write chart %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Closed reports whether the set was disposed
func (c *Charts) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close disposes the chart set. Safe to call more than once.
func (c *Charts) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.svgs = nil
	return nil
}

const (
	doughnutWidth  = 360
	doughnutHeight = 240
	doughnutRadius = 80
	doughnutStroke = 36
)

// drawDoughnut draws each sentiment as a dashed arc of one circle
func drawDoughnut(w io.Writer, counts models.SentimentCounts) {
	canvas := svg.New(w)
	canvas.Start(doughnutWidth, doughnutHeight)

	cx, cy := 120, doughnutHeight/2
	circumference := 2 * math.Pi * doughnutRadius

	total := 0
	for _, label := range models.SentimentLabels {
		total += counts.Get(label)
	}

	if total == 0 {
		canvas.Circle(cx, cy, doughnutRadius,
			fmt.Sprintf("fill:none;stroke:%s;stroke-width:%d", colorGrid, doughnutStroke))
		canvas.Text(cx, cy+5, "No data", fmt.Sprintf("fill:%s;font-size:14px;text-anchor:middle;%s", colorMuted, fontStyle))
	} else {
		offset := 0.0
		for _, label := range models.SentimentLabels {
			n := counts.Get(label)
			if n == 0 {
				continue
			}
			arc := circumference * float64(n) / float64(total)
			canvas.Circle(cx, cy, doughnutRadius, fmt.Sprintf(
				"fill:none;stroke:%s;stroke-width:%d;stroke-dasharray:%.2f %.2f;stroke-dashoffset:%.2f",
				sentimentColors[label], doughnutStroke, arc, circumference-arc, -offset))
			offset += arc
		}
		canvas.Text(cx, cy+6, fmt.Sprintf("%d", total),
			fmt.Sprintf("fill:%s;font-size:18px;font-weight:bold;text-anchor:middle;%s", colorText, fontStyle))
	}

	drawLegend(canvas, 240, 80, counts)
	canvas.End()
}

func drawLegend(canvas *svg.SVG, x, y int, counts models.SentimentCounts) {
	for i, label := range models.SentimentLabels {
		row := y + i*28
		canvas.Rect(x, row-10, 12, 12, "fill:"+sentimentColors[label])
		text := label
		if counts != nil {
			text = fmt.Sprintf("%s (%d)", label, counts.Get(label))
		}
		canvas.Text(x+20, row, text, fmt.Sprintf("fill:%s;font-size:12px;%s", colorText, fontStyle))
	}
}

const (
	barWidth      = 480
	barHeight     = 280
	barMarginLeft = 40
	barMarginTop  = 20
	barPlotHeight = 200
	barLegendX    = 380
)

// drawStackedBar draws one column per platform with sentiments stacked
func drawStackedBar(w io.Writer, byPlatform map[string]models.SentimentCounts) {
	canvas := svg.New(w)
	canvas.Start(barWidth, barHeight)

	baseline := barMarginTop + barPlotHeight
	canvas.Line(barMarginLeft, baseline, barLegendX-20, baseline, "stroke:"+colorGrid)

	platforms := sortedPlatforms(byPlatform)
	if len(platforms) == 0 {
		canvas.Text((barMarginLeft+barLegendX)/2, baseline/2, "No data",
			fmt.Sprintf("fill:%s;font-size:14px;text-anchor:middle;%s", colorMuted, fontStyle))
		drawLegend(canvas, barLegendX, 40, nil)
		canvas.End()
		return
	}

	maxTotal := 0
	for _, p := range platforms {
		sum := 0
		for _, label := range models.SentimentLabels {
			sum += byPlatform[p].Get(label)
		}
		if sum > maxTotal {
			maxTotal = sum
		}
	}
	if maxTotal == 0 {
		maxTotal = 1
	}
	canvas.Text(barMarginLeft-6, barMarginTop+4, fmt.Sprintf("%d", maxTotal),
		fmt.Sprintf("fill:%s;font-size:11px;text-anchor:end;%s", colorMuted, fontStyle))

	slot := (barLegendX - 20 - barMarginLeft) / len(platforms)
	colWidth := slot * 3 / 5
	if colWidth < 4 {
		colWidth = 4
	}

	for i, p := range platforms {
		x := barMarginLeft + i*slot + (slot-colWidth)/2
		top := baseline
		for _, label := range models.SentimentLabels {
			n := byPlatform[p].Get(label)
			if n == 0 {
				continue
			}
			h := n * barPlotHeight / maxTotal
			if h < 1 {
				h = 1
			}
			top -= h
			canvas.Rect(x, top, colWidth, h, "fill:"+sentimentColors[label])
		}
		canvas.Text(x+colWidth/2, baseline+16, Capitalize(p),
			fmt.Sprintf("fill:%s;font-size:11px;text-anchor:middle;%s", colorMuted, fontStyle))
	}

	drawLegend(canvas, barLegendX, 40, nil)
	canvas.End()
}
