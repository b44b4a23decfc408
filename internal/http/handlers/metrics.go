package handlers

import (
	"bytes"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"orderrec/internal/metrics"
)

// Metrics handles GET /metrics. With ?scope=service only this service's own
// families are exposed, without the Go runtime and process collectors.
func Metrics(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	return func(ctx *fasthttp.RequestCtx) {
		metricFamilies, err := gatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		scope := string(ctx.QueryArgs().Peek("scope"))
		if scope != "" && scope != "service" && scope != "all" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString("scope must be service or all")
			return
		}

		filtered := metricFamilies
		if scope == "service" {
			filtered = make([]*dto.MetricFamily, 0, len(metricFamilies))
			for _, mf := range metricFamilies {
				if strings.HasPrefix(mf.GetName(), metrics.Namespace+"_") {
					filtered = append(filtered, mf)
				}
			}
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, format)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(format))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}
