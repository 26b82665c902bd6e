package web

import (
	"net/http"
)

func handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func handleAppJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write([]byte(appJS))
}

const indexHTML = `<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width,initial-scale=1,user-scalable=no"/>
  <title>Push to Talk</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Arial; margin: 0;
           min-height: 100vh; display: flex; flex-direction: column; align-items: center; justify-content: center;
           -webkit-user-select: none; user-select: none; }
    #micIcon { width: 160px; height: 160px; color: red; cursor: pointer; touch-action: none; }
    #status { margin-top: 24px; padding: 6px 12px; border-radius: 999px; border: 1px solid #ddd; color: #555; }
    #status.connected { color: #0a7d2c; border-color: #0a7d2c; }
    .hint { margin-top: 10px; font-size: 12px; color: #999; }
  </style>
</head>
<body>
  <svg id="micIcon" viewBox="0 0 24 24" fill="currentColor" aria-label="Hold to record">
    <path d="M12 14a3 3 0 0 0 3-3V5a3 3 0 0 0-6 0v6a3 3 0 0 0 3 3z"/>
    <path d="M17 11a5 5 0 0 1-10 0H5a7 7 0 0 0 6 6.92V21h2v-3.08A7 7 0 0 0 19 11h-2z"/>
  </svg>
  <div id="status">Status: Menghubungkan...</div>
  <div class="hint">Tahan untuk merekam, lepas untuk berhenti</div>
  <script src="/app.js"></script>
</body>
</html>
`

// Press-start is bound to the icon; press-end is bound to the document so a
// release anywhere on the page stops recording.
const appJS = `(function () {
  const micIcon = document.getElementById('micIcon');
  const statusDiv = document.getElementById('status');
  let sock = null;

  function send(type) {
    if (!sock || sock.readyState !== WebSocket.OPEN) {
      console.error('daemon not reachable');
      return;
    }
    sock.send(JSON.stringify({ type: type }));
  }

  function apply(ev) {
    if (ev.type === 'status') {
      statusDiv.textContent = ev.text;
      statusDiv.classList.toggle('connected', !!ev.connected);
    } else if (ev.type === 'icon') {
      micIcon.style.color = ev.color;
    }
  }

  function connect() {
    const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
    sock = new WebSocket(proto + location.host + '/ws');
    sock.onmessage = function (m) {
      try { apply(JSON.parse(m.data)); } catch (e) { console.error(e); }
    };
    sock.onclose = function () {
      statusDiv.textContent = 'Status: Daemon tidak terhubung';
      statusDiv.classList.remove('connected');
      setTimeout(connect, 2000);
    };
  }

  micIcon.addEventListener('mousedown', function () { send('press_start'); });
  document.addEventListener('mouseup', function () { send('press_end'); });
  micIcon.addEventListener('touchstart', function (e) {
    e.preventDefault();
    send('press_start');
  }, { passive: false });
  document.addEventListener('touchend', function (e) {
    e.preventDefault();
    send('press_end');
  }, { passive: false });

  connect();
})();
`
