package rest

import (
	"bytes"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics renders the default prometheus registry in text format.
func Metrics(c echo.Context) error {
	out := &bytes.Buffer{}
	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for i := range metricFamilies {
		if _, err := expfmt.MetricFamilyToText(out, metricFamilies[i]); err != nil {
			return err
		}
	}
	return c.Blob(http.StatusOK, string(expfmt.FmtText), out.Bytes())
}
