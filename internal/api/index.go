package api

import "net/http"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	stream := `<p class="muted">Preview disabled</p>`
	if s.preview != nil {
		stream = `<img src="/stream" alt="Weatharr Station preview">`
	}
	w.Write([]byte(indexHead + stream + indexTail))
}

const indexHead = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Weatharr Station</title>
    <style>
        body { margin: 0; background: #0c1016; color: #ebf2ff; font-family: system-ui, sans-serif; }
        header { padding: 12px 20px; display: flex; gap: 16px; align-items: center; }
        img { width: 100%; max-height: 80vh; object-fit: contain; background: #000; display: block; }
        button { background: #1c2838; color: #ebf2ff; border: 1px solid #34465e; border-radius: 16px; padding: 6px 14px; cursor: pointer; }
        button.active { background: #3a6ea5; }
        button.stop { background: #8a2b2b; margin-left: auto; }
        pre { margin: 0 20px 20px; font-size: 12px; color: #b8c6d6; }
        .muted { color: #6b7a8c; padding: 20px; }
    </style>
</head>
<body>
    <header>
        <strong>Weatharr Station</strong>
        <span id="pages"></span>
        <button class="stop" onclick="stopStation()">Stop</button>
    </header>
`

const indexTail = `
    <pre id="status"></pre>
    <script>
        function renderPages(data) {
            const el = document.getElementById('pages');
            el.innerHTML = '';
            data.pages.forEach(name => {
                const b = document.createElement('button');
                b.textContent = name;
                if (name === data.current) b.className = 'active';
                b.onclick = () => fetch('/api/pages/' + name, { method: 'POST' }).then(r => r.json()).then(renderPages);
                el.appendChild(b);
            });
        }
        function stopStation() {
            if (confirm('Stop the broadcast?')) fetch('/api/stop', { method: 'POST' });
        }
        fetch('/api/pages').then(r => r.json()).then(renderPages);
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/events');
        ws.onmessage = ev => {
            document.getElementById('status').textContent = JSON.stringify(JSON.parse(ev.data), null, 2);
        };
        setInterval(() => fetch('/api/pages').then(r => r.json()).then(renderPages), 5000);
    </script>
</body>
</html>`
