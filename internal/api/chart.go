package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/db"
	"github.com/banshee-data/pedflow/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// runChart renders the modal split and gateway counts of one run as an
// HTML bar chart.
func (s *Server) runChart(w http.ResponseWriter, r *http.Request) {
	rec := s.loadRun(w, r)
	if rec == nil {
		return
	}

	var buf bytes.Buffer
	if err := renderRunChart(&buf, rec); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderRunChart(buf *bytes.Buffer, rec *db.RunRecord) error {
	x := make([]string, crowd.NumModes)
	shares := make([]opts.BarData, crowd.NumModes)
	gateways := make([]opts.BarData, crowd.NumModes)
	for _, m := range crowd.Modes {
		x[m] = m.String()
		shares[m] = opts.BarData{Value: fmt.Sprintf("%.1f", 100*rec.Split[m])}
		gateways[m] = opts.BarData{Value: rec.Gateways[m]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Modal split", Width: "100%", Height: "520px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Modal split",
			Subtitle: fmt.Sprintf("run=%s kind=%s pedestrians=%d status=%s", rec.RunID, rec.Kind, rec.Pedestrians, rec.Status),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("share (%)", shares,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("gateways", gateways,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(bar)
	return page.Render(buf)
}
