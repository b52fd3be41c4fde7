package server

import "net/http"

// indexPage is a minimal live view of task output. It subscribes to the
// WebSocket feed and appends lines as they arrive.
const indexPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>crucible dev</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 1em; }
.task { color: #8cf; }
</style>
</head>
<body>
<h3>crucible dev</h3>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const msg = JSON.parse(ev.data);
  const span = document.createElement("span");
  span.innerHTML = '<span class="task">[' + msg.task + ']</span> ';
  span.appendChild(document.createTextNode(msg.line + "\n"));
  log.appendChild(span);
  window.scrollTo(0, document.body.scrollHeight);
};
</script>
</body>
</html>
`

func indexHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(indexPage))
	})
}
