package http

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>crewd</title>
<meta http-equiv="refresh" content="5"></head>
<body>
<h1>crewd</h1>
<p>{{if .Running}}Running{{with .CurrentRun}} issue #{{.Issue}}{{end}}{{else}}Idle{{end}}
&middot; {{.CompletedRuns}} runs completed</p>
<table>
<tr><th>Agent</th><th>Role</th><th>State</th></tr>
{{range .AllAgents}}<tr><td>{{.ID}}</td><td>{{.Role}}</td><td>{{.State}}</td></tr>
{{end}}</table>
<h2>Usage</h2>
<p>{{.Usage.TotalTokens}} tokens, {{.Usage.Calls}} calls, ~${{printf "%.4f" .Usage.EstimatedCostUSD}}
{{if .Usage.OverLimit}}<strong>over limit</strong>{{end}}</p>
{{with .LastResult}}<h2>Last result</h2><pre>{{.}}</pre>{{end}}
</body>
</html>
`))

func (s *Server) handleIndex(c echo.Context) error {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, s.status()); err != nil {
		s.logger.Error(c.Request().Context(), "rendering index", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not render status page")
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
