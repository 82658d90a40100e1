package preview

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Virtual Camera Preview</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; padding: 16px; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        img { width: 100%; background: #000; }
        pre { font-size: 12px; white-space: pre-wrap; }
        button, select { margin: 4px 4px 4px 0; }
    </style>
</head>
<body>
    <h1>Virtual Camera Preview</h1>
    <div class="grid">
        <div class="panel">
            <img id="stream" src="/stream" alt="stream">
        </div>
        <div class="panel">
            <h2>Format</h2>
            <select id="format">
                <option>YUY2</option><option>NV12</option><option>I420</option><option>RGB24</option>
            </select>
            <button id="apply">Negotiate</button>
            <h2>Recording</h2>
            <button id="rec-start">Start</button>
            <button id="rec-stop">Stop</button>
            <h2>Status</h2>
            <pre id="status">Waiting for data...</pre>
        </div>
    </div>
    <script>
        const statusEl = document.getElementById('status');
        const events = new EventSource('/api/status/stream');
        events.onmessage = (e) => { statusEl.textContent = JSON.stringify(JSON.parse(e.data), null, 2); };

        async function post(url, body) {
            const resp = await fetch(url, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: body ? JSON.stringify(body) : undefined,
            });
            const data = await resp.json();
            if (!resp.ok) { alert(data.error || resp.statusText); }
            return data;
        }

        document.getElementById('apply').onclick = () => post('/api/format', {
            major_kind: 'video',
            subtype: document.getElementById('format').value,
            width: 1920,
            height: 1080,
        });
        document.getElementById('rec-start').onclick = () => post('/api/recording/start');
        document.getElementById('rec-stop').onclick = () => post('/api/recording/stop');
    </script>
</body>
</html>
`
