package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
	"github.com/sweeney/pm25-relay-sim/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"dh": func(d time.Duration) string {
		return logic.ToDaysHours(d).String()
	},
	"pct": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Relay Simulator</title>
<style>
body { font-family: monospace; max-width: 900px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.DONE { color: green; }
.FAILED { color: red; font-weight: bold; }
.RUNNING { color: orange; }
.PENDING { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Relay Simulator{{if .Complete}} (complete){{end}}</h1>

<h2>Run</h2>
<table>
<tr><th>Run ID</th><td>{{.RunID}}</td></tr>
<tr><th>Policy</th><td>{{.Config.Policy}}</td></tr>
<tr><th>Workers</th><td>{{.Config.Workers}}</td></tr>
<tr><th>Input</th><td>{{.Config.InputDir}}</td></tr>
<tr><th>Output</th><td>{{.Config.OutputDir}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}{{if .Config.Broker}} ({{.Config.Broker}}){{end}}</td></tr>
</table>

<h2>Progress</h2>
<table>
<tr><th>Pending</th><td>{{.Counts.Pending}}</td></tr>
<tr><th>Running</th><td>{{.Counts.Running}}</td></tr>
<tr><th>Done</th><td>{{.Counts.Done}}</td></tr>
<tr><th>Failed</th><td>{{.Counts.Failed}}</td></tr>
</table>

<h2>Averages</h2>
<table>
<tr><th>Series</th><td>{{.Aggregate.Series}}</td></tr>
<tr><th>Events per series</th><td>{{printf "%.2f" .Aggregate.MeanEvents}}</td></tr>
<tr><th>Mean duration (d:h)</th><td>{{dh .Aggregate.MeanDuration}}</td></tr>
<tr><th>Mean gap (d:h)</th><td>{{dh .Aggregate.MeanGap}}</td></tr>
</table>

<h2>Series</h2>
<table>
<tr><th>Name</th><th>State</th><th>Readings</th><th>Events</th><th>Duration</th><th>Gap</th><th>ON</th><th>Elevated ON</th></tr>
{{range .Series}}<tr>
<td><a href="/series/{{.Name}}">{{.Name}}</a></td>
<td class="{{.State}}">{{.State}}{{if .ErrorKind}} ({{.ErrorKind}}){{end}}</td>
<td>{{.Readings}}</td>
<td>{{.Summary.Count}}{{if .Summary.Open}}+open{{end}}</td>
<td>{{dh .Summary.MeanDuration}}</td>
<td>{{dh .Summary.MeanGap}}</td>
<td>{{pct .OnShare}}</td>
<td>{{pct .ElevatedShare}}</td>
</tr>
{{end}}</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot exposes methods; the template reads plain fields.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		Counts    status.Counts
		Aggregate logic.Aggregate
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		Counts:    snap.Counts(),
		Aggregate: snap.Aggregate(),
	}
	indexTmpl.Execute(w, data)
}
