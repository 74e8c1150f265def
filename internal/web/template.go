package web

import (
	"fmt"
	"html/template"
	"io"

	"github.com/sweeney/pirage/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"openClosed": func(open bool) string {
		if open {
			return "OPEN"
		}
		return "CLOSED"
	},
	"yesNo": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
	"temp": func(t *float64) string {
		if t == nil {
			return "unknown"
		}
		return fmt.Sprintf("%.1f °C", *t)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>pirage</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.open { color: red; font-weight: bold; }
.closed { color: green; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
button { font-family: monospace; font-size: 1.1em; padding: 0.5em 1em; margin: 0.2em; }
</style>
</head>
<body>
<h1>Garage<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>State</h2>
<table>
<tr><th>Door</th><td id="mag" class="{{if .Mag}}open{{else}}closed{{end}}">{{openClosed .Mag}}</td></tr>
<tr><th>Last door change</th><td id="last-mag">{{.Times.LastMag}}</td></tr>
<tr><th>Motion</th><td id="pir">{{yesNo .PIR}}</td></tr>
<tr><th>Last motion</th><td id="last-pir">{{.Times.LastPIR}}</td></tr>
<tr><th>Temperature</th><td id="temp">{{temp .Temp}}</td></tr>
<tr><th>Updated</th><td id="now">{{.Times.Now}}</td></tr>
</table>

<h2>Controls</h2>
<p><button id="click">Toggle door</button></p>
<table>
<tr><th>Auto-close locked</th><td><input type="checkbox" id="locked"{{if .Locked}} checked{{end}}></td></tr>
<tr><th>Motion sensor</th><td><input type="checkbox" id="pir-enabled"{{if .PIREnabled}} checked{{end}}></td></tr>
<tr><th>Notifications</th><td><input type="checkbox" id="notify-enabled"{{if .NotifyEnabled}} checked{{end}}></td></tr>
</table>

<p><a href="/status">JSON</a> · <a href="/metrics">metrics</a></p>

<script>
(function() {
  var dot = document.getElementById("live-dot");
  function byId(id) { return document.getElementById(id); }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function temp(t) {
    return t === null ? "unknown" : t.toFixed(1) + " °C";
  }

  function render(s) {
    var mag = byId("mag");
    mag.textContent = s.mag ? "OPEN" : "CLOSED";
    mag.className = s.mag ? "open" : "closed";
    byId("last-mag").textContent = s.times.last_mag;
    byId("pir").textContent = s.pir ? "yes" : "no";
    byId("last-pir").textContent = s.times.last_pir;
    byId("temp").textContent = temp(s.temp);
    byId("now").textContent = s.times.now;
    byId("locked").checked = s.locked;
    byId("pir-enabled").checked = s.pir_enabled;
    byId("notify-enabled").checked = s.notify_enabled;
  }

  function post(path, body) {
    return fetch(path, {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: body === undefined ? null : JSON.stringify(body)
    });
  }

  byId("click").addEventListener("click", function() {
    if (confirm("Toggle the garage door?")) { post("/click"); }
  });
  byId("locked").addEventListener("change", function(e) {
    post("/lock", { locked: e.target.checked });
  });
  byId("pir-enabled").addEventListener("change", function(e) {
    post("/pir", { enabled: e.target.checked });
  });
  byId("notify-enabled").addEventListener("change", function(e) {
    post("/notify", { enabled: e.target.checked });
  });

  var source = new EventSource("/stream");
  source.onopen = function() { setDot("ok", "live"); };
  source.onerror = function() { setDot("err", "reconnecting"); };
  source.onmessage = function(e) {
    try { render(JSON.parse(e.data)); } catch (err) {}
  };
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, p status.Packet) error {
	return indexTmpl.Execute(w, p)
}
