package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Potionwatch</title>
    <meta name="description" content="Timeline-synchronized potion logistics dashboard">
    <meta property="og:title" content="Potionwatch">
    <meta property="og:description" content="Replay a week of cauldron drains, courier runs, and transport tickets">
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>⚗</text></svg>">
    <link rel="preconnect" href="https://fonts.googleapis.com">
    <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
    <link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600&family=JetBrains+Mono:wght@400;500&display=swap" rel="stylesheet">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --bg: #09090b;
            --bg-subtle: #18181b;
            --border: #27272a;
            --text: #fafafa;
            --text-secondary: #a1a1aa;
            --text-tertiary: #52525b;
            --accent: #22c55e;
            --accent-dim: rgba(34, 197, 94, 0.1);
            --red: #ef4444;
            --amber: #f59e0b;
            --blue: #3b82f6;
            --violet: #8b5cf6;
        }

        body {
            font-family: 'Inter', -apple-system, sans-serif;
            background: var(--bg);
            color: var(--text);
            min-height: 100vh;
            font-size: 14px;
            line-height: 1.5;
            -webkit-font-smoothing: antialiased;
        }

        .mono {
            font-family: 'JetBrains Mono', monospace;
        }

        .container {
            max-width: 1400px;
            margin: 0 auto;
            padding: 0 24px;
        }

        header {
            border-bottom: 1px solid var(--border);
            padding: 16px 0;
            position: sticky;
            top: 0;
            background: var(--bg);
            z-index: 100;
        }

        .header-inner {
            display: flex;
            justify-content: space-between;
            align-items: center;
        }

        .logo {
            display: flex;
            align-items: center;
            gap: 10px;
            text-decoration: none;
            color: var(--text);
        }

        .logo-mark {
            width: 28px;
            height: 28px;
            background: linear-gradient(135deg, var(--violet), var(--accent));
            border-radius: 6px;
        }

        .logo-text {
            font-weight: 600;
            font-size: 15px;
        }

        nav {
            display: flex;
            gap: 32px;
        }

        nav a {
            color: var(--text-secondary);
            text-decoration: none;
            font-size: 13px;
            transition: color 0.15s;
        }

        nav a:hover, nav a.active {
            color: var(--text);
        }

        /* Clock bar */
        .clock-bar {
            padding: 24px 0;
            border-bottom: 1px solid var(--border);
        }

        .clock-row {
            display: flex;
            align-items: center;
            gap: 20px;
            flex-wrap: wrap;
        }

        .clock-now {
            font-size: 26px;
            font-weight: 500;
            min-width: 320px;
        }

        .clock-now .dim { color: var(--text-tertiary); }

        .controls {
            display: flex;
            align-items: center;
            gap: 8px;
        }

        .ctl {
            background: var(--bg-subtle);
            border: 1px solid var(--border);
            color: var(--text);
            border-radius: 6px;
            padding: 8px 14px;
            font-size: 14px;
            cursor: pointer;
            transition: border-color 0.15s;
        }

        .ctl:hover { border-color: var(--text-tertiary); }

        .ctl.play {
            background: var(--accent-dim);
            border-color: var(--accent);
            color: var(--accent);
            min-width: 72px;
        }

        select.ctl { appearance: none; padding-right: 20px; }

        .live-indicator {
            display: flex;
            align-items: center;
            gap: 8px;
            font-size: 12px;
            color: var(--text-secondary);
            margin-left: auto;
        }

        .live-dot {
            width: 8px; height: 8px;
            background: var(--accent);
            border-radius: 50%;
            animation: pulse 2s ease-in-out infinite;
        }

        .live-dot.down { background: var(--red); animation: none; }

        @keyframes pulse { 0%, 100% { opacity: 1; } 50% { opacity: 0.4; } }

        .scrub-row {
            display: flex;
            align-items: center;
            gap: 16px;
            margin-top: 16px;
        }

        .scrub-label {
            font-size: 11px;
            color: var(--text-tertiary);
            white-space: nowrap;
        }

        #scrubber {
            flex: 1;
            appearance: none;
            height: 4px;
            background: var(--border);
            border-radius: 2px;
            outline: none;
        }

        #scrubber::-webkit-slider-thumb {
            appearance: none;
            width: 14px; height: 14px;
            background: var(--accent);
            border-radius: 50%;
            cursor: pointer;
        }

        #scrubber::-moz-range-thumb {
            width: 14px; height: 14px;
            background: var(--accent);
            border: none;
            border-radius: 50%;
            cursor: pointer;
        }

        /* Main grid */
        .grid {
            display: grid;
            grid-template-columns: 1fr 340px;
            gap: 24px;
            padding: 24px 0 48px;
        }

        @media (max-width: 900px) {
            .grid { grid-template-columns: 1fr; }
        }

        .map-section {
            background: var(--bg-subtle);
            border: 1px solid var(--border);
            border-radius: 10px;
            overflow: hidden;
        }

        .section-header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            padding: 14px 16px;
            border-bottom: 1px solid var(--border);
        }

        .section-title {
            font-size: 13px;
            font-weight: 600;
            color: var(--text-secondary);
            text-transform: uppercase;
            letter-spacing: 0.05em;
        }

        #map {
            display: block;
            width: 100%;
            height: 560px;
        }

        .sidebar-section {
            background: var(--bg-subtle);
            border: 1px solid var(--border);
            border-radius: 10px;
            overflow: hidden;
            margin-bottom: 24px;
        }

        .ticket-list {
            max-height: 380px;
            overflow-y: auto;
        }

        .ticket {
            padding: 10px 16px;
            border-bottom: 1px solid var(--border);
            font-size: 13px;
        }

        .ticket:last-child { border-bottom: none; }

        .ticket.flagged {
            border-left: 3px solid var(--red);
            background: rgba(239, 68, 68, 0.05);
        }

        .ticket-top {
            display: flex;
            justify-content: space-between;
            gap: 8px;
        }

        .ticket-amount { color: var(--accent); font-weight: 500; }

        .ticket.flagged .ticket-amount { color: var(--red); }

        .ticket-meta {
            color: var(--text-tertiary);
            font-size: 11px;
            margin-top: 2px;
        }

        .flag-badge {
            display: inline-block;
            background: rgba(239, 68, 68, 0.15);
            color: var(--red);
            font-size: 10px;
            padding: 1px 6px;
            border-radius: 4px;
            text-transform: uppercase;
            margin-left: 6px;
        }

        .alert-banner {
            padding: 10px 16px;
            border-bottom: 1px solid var(--border);
            border-left: 3px solid var(--red);
            background: rgba(239, 68, 68, 0.08);
            font-size: 12px;
            color: var(--text-secondary);
        }

        .alert-banner a { color: var(--red); text-decoration: none; }

        .ds-row {
            display: flex;
            align-items: center;
            gap: 10px;
            padding: 8px 16px;
            border-bottom: 1px solid var(--border);
            font-size: 13px;
        }

        .ds-row:last-child { border-bottom: none; }

        .ds-dot {
            width: 8px; height: 8px;
            border-radius: 50%;
            background: var(--text-tertiary);
            flex-shrink: 0;
        }

        .ds-dot.ok { background: var(--accent); }
        .ds-dot.err { background: var(--red); }

        .ds-name { flex: 1; }
        .ds-count { color: var(--text-tertiary); font-size: 12px; }

        .empty {
            text-align: center;
            padding: 40px 24px;
            color: var(--text-tertiary);
        }

        footer {
            border-top: 1px solid var(--border);
            padding: 24px 0;
        }

        .footer-inner {
            display: flex;
            justify-content: space-between;
            color: var(--text-tertiary);
            font-size: 13px;
        }

        .footer-links a {
            color: var(--text-secondary);
            text-decoration: none;
            margin-right: 20px;
        }
    </style>
</head>
<body>
    <header>
        <div class="container header-inner">
            <a href="/" class="logo">
                <div class="logo-mark"></div>
                <span class="logo-text">Potionwatch</span>
            </a>
            <nav>
                <a href="/" class="active">Dashboard</a>
                <a href="/audit">Audit</a>
            </nav>
        </div>
    </header>

    <main class="container">
        <section class="clock-bar">
            <div class="clock-row">
                <div class="clock-now mono" id="clock-now"><span class="dim">loading timeline...</span></div>
                <div class="controls">
                    <button class="ctl" id="step-back" title="Back one hour">&#171; 1h</button>
                    <button class="ctl play" id="play-toggle">Play</button>
                    <button class="ctl" id="step-fwd" title="Forward one hour">1h &#187;</button>
                    <select class="ctl" id="speed">
                        <option value="1">1 min/s</option>
                        <option value="5">5 min/s</option>
                        <option value="15">15 min/s</option>
                        <option value="60">1 h/s</option>
                        <option value="360">6 h/s</option>
                    </select>
                </div>
                <div class="live-indicator">
                    <span class="live-dot" id="ws-dot"></span>
                    <span id="ws-label">Connecting</span>
                </div>
            </div>
            <div class="scrub-row">
                <span class="scrub-label mono" id="range-start"></span>
                <input type="range" id="scrubber" min="0" max="0" value="0" step="1">
                <span class="scrub-label mono" id="range-end"></span>
            </div>
        </section>

        <div class="grid">
            <section class="map-section">
                <div class="section-header">
                    <span class="section-title">Cauldron Map</span>
                    <span class="section-title mono" id="map-meta"></span>
                </div>
                <canvas id="map"></canvas>
            </section>

            <aside>
                <div class="sidebar-section">
                    <div class="section-header">
                        <span class="section-title">Transport Tickets</span>
                        <span class="section-title mono" id="ticket-count"></span>
                    </div>
                    <div id="alerts"></div>
                    <div class="ticket-list" id="tickets">
                        <div class="empty">No tickets at this point in the timeline</div>
                    </div>
                </div>

                <div class="sidebar-section">
                    <div class="section-header">
                        <span class="section-title">Datasets</span>
                    </div>
                    <div id="datasets">
                        <div class="empty">Loading...</div>
                    </div>
                </div>
            </aside>
        </div>
    </main>

    <footer>
        <div class="container footer-inner">
            <div class="footer-links">
                <a href="/v1/scene">Scene API</a>
                <a href="/v1/clock">Clock API</a>
                <a href="/metrics">Metrics</a>
            </div>
            <div>Every liter accounted for</div>
        </div>
    </footer>

    <script>
        function escapeHtml(text) {
            if (text == null) return '';
            const div = document.createElement('div');
            div.textContent = String(text);
            return div.innerHTML;
        }

        function fmtLiters(n) {
            const x = parseFloat(n) || 0;
            return x.toFixed(x === Math.round(x) ? 0 : 1) + ' L';
        }

        // Upstream timestamps render as 2026-01-01T00:00:00+00:00; show the
        // readable middle.
        function fmtTS(ts) {
            if (!ts) return '';
            return ts.slice(0, 10) + ' ' + ts.slice(11, 16);
        }

        function fmtDay(ts) { return ts ? ts.slice(0, 10) : ''; }

        async function post(path, body) {
            try {
                const r = await fetch(path, {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify(body || {})
                });
                if (!r.ok) return null;
                return await r.json();
            } catch (e) {
                return null;
            }
        }

        async function safeFetch(url) {
            try {
                const r = await fetch(url);
                if (!r.ok) return null;
                return await r.json();
            } catch (e) {
                return null;
            }
        }

        // ---- Clock state + controls ----

        let clockState = null;
        let scrubbing = false;

        function updateClock(st) {
            clockState = st;
            const nowEl = document.getElementById('clock-now');
            if (!st || !st.has_range) {
                nowEl.innerHTML = '<span class="dim">waiting for dataset range</span>';
                return;
            }
            nowEl.innerHTML = escapeHtml(fmtTS(st.now)) +
                ' <span class="dim">UTC</span>' +
                (st.at_end ? ' <span class="dim">(end)</span>' : '');

            document.getElementById('range-start').textContent = fmtDay(st.start);
            document.getElementById('range-end').textContent = fmtDay(st.end);

            const scrub = document.getElementById('scrubber');
            scrub.max = st.total_minutes;
            if (!scrubbing) scrub.value = st.offset_minutes;

            document.getElementById('play-toggle').textContent = st.paused ? 'Play' : 'Pause';
            document.getElementById('speed').value = String(st.speed);
        }

        document.getElementById('play-toggle').addEventListener('click', async () => {
            if (!clockState) return;
            const st = await post('/v1/clock/' + (clockState.paused ? 'play' : 'pause'));
            if (st) updateClock(st);
        });

        document.getElementById('step-back').addEventListener('click', async () => {
            const st = await post('/v1/clock/step', { minutes: -60 });
            if (st) updateClock(st);
        });

        document.getElementById('step-fwd').addEventListener('click', async () => {
            const st = await post('/v1/clock/step', { minutes: 60 });
            if (st) updateClock(st);
        });

        document.getElementById('speed').addEventListener('change', async (e) => {
            const st = await post('/v1/clock/speed', { multiplier: parseInt(e.target.value, 10) });
            if (st) updateClock(st);
        });

        const scrub = document.getElementById('scrubber');
        scrub.addEventListener('input', () => { scrubbing = true; });
        scrub.addEventListener('change', async () => {
            scrubbing = false;
            const st = await post('/v1/clock/seek', { minute: parseInt(scrub.value, 10) });
            if (st) updateClock(st);
        });

        // ---- Map canvas ----

        let lastScene = null;

        function levelColor(pct) {
            if (pct == null) return 'rgba(82, 82, 91, 0.6)';
            if (pct >= 50) return '#22c55e';
            if (pct >= 20) return '#f59e0b';
            return '#ef4444';
        }

        function drawScene(sc) {
            const canvas = document.getElementById('map');
            const rect = canvas.getBoundingClientRect();
            const dpr = window.devicePixelRatio || 1;
            canvas.width = rect.width * dpr;
            canvas.height = rect.height * dpr;
            const ctx = canvas.getContext('2d');
            ctx.scale(dpr, dpr);
            ctx.clearRect(0, 0, rect.width, rect.height);

            if (!sc || !sc.cauldrons || sc.cauldrons.length === 0) {
                ctx.fillStyle = '#52525b';
                ctx.font = '14px Inter, sans-serif';
                ctx.textAlign = 'center';
                ctx.fillText('No cauldrons loaded yet', rect.width / 2, rect.height / 2);
                return;
            }

            const m = 60;
            // Scene coordinates are a unit viewport, y northward.
            const px = x => m + x * (rect.width - 2 * m);
            const py = y => rect.height - (m + y * (rect.height - 2 * m));

            // Cauldrons flagged by a visible audit finding get a ring.
            const flaggedCauldrons = {};
            (sc.tickets || []).forEach(t => {
                if (t.flagged) flaggedCauldrons[t.cauldron_id] = true;
            });

            // Market first so cauldrons draw over its label
            if (sc.market) {
                const x = px(sc.market.x), y = py(sc.market.y);
                ctx.fillStyle = '#3b82f6';
                ctx.beginPath();
                ctx.moveTo(x, y - 12);
                ctx.lineTo(x + 12, y);
                ctx.lineTo(x, y + 12);
                ctx.lineTo(x - 12, y);
                ctx.closePath();
                ctx.fill();
                ctx.fillStyle = '#a1a1aa';
                ctx.font = '11px Inter, sans-serif';
                ctx.textAlign = 'center';
                ctx.fillText(sc.market.name, x, y + 28);
            }

            const r = 16;
            sc.cauldrons.forEach(cd => {
                const x = px(cd.x), y = py(cd.y);
                const pct = (cd.percent_full == null) ? null : cd.percent_full;

                // Fill proportional to level, clipped to the bowl
                ctx.save();
                ctx.beginPath();
                ctx.arc(x, y, r, 0, Math.PI * 2);
                ctx.clip();
                ctx.fillStyle = '#18181b';
                ctx.fillRect(x - r, y - r, 2 * r, 2 * r);
                if (pct != null) {
                    ctx.fillStyle = levelColor(pct);
                    const h = (pct / 100) * 2 * r;
                    ctx.globalAlpha = 0.85;
                    ctx.fillRect(x - r, y + r - h, 2 * r, h);
                    ctx.globalAlpha = 1;
                }
                ctx.restore();

                ctx.strokeStyle = flaggedCauldrons[cd.id] ? '#ef4444' : '#3f3f46';
                ctx.lineWidth = flaggedCauldrons[cd.id] ? 2.5 : 1.5;
                ctx.beginPath();
                ctx.arc(x, y, r, 0, Math.PI * 2);
                ctx.stroke();

                ctx.fillStyle = '#fafafa';
                ctx.font = '11px Inter, sans-serif';
                ctx.textAlign = 'center';
                ctx.fillText(cd.name, x, y - r - 8);
                ctx.fillStyle = '#71717a';
                ctx.font = '10px JetBrains Mono, monospace';
                ctx.fillText(cd.level == null ? 'no reading' : fmtLiters(cd.level), x, y + r + 14);
            });

            document.getElementById('map-meta').textContent =
                sc.cauldrons.length + ' cauldrons';
        }

        // ---- Ticket feed ----

        function renderTickets(tickets) {
            const el = document.getElementById('tickets');
            document.getElementById('ticket-count').textContent = tickets ? tickets.length : 0;
            if (!tickets || tickets.length === 0) {
                el.innerHTML = '<div class="empty">No tickets at this point in the timeline</div>';
                return;
            }
            // Newest first
            el.innerHTML = tickets.slice().reverse().slice(0, 60).map(t =>
                '<div class="ticket' + (t.flagged ? ' flagged' : '') + '">' +
                    '<div class="ticket-top">' +
                        '<span>' + escapeHtml(t.cauldron_id) +
                            (t.flagged ? '<span class="flag-badge">flagged</span>' : '') +
                        '</span>' +
                        '<span class="ticket-amount mono">' + fmtLiters(t.amount_collected) + '</span>' +
                    '</div>' +
                    '<div class="ticket-meta mono">' +
                        escapeHtml(fmtTS(t.date)) +
                        (t.courier ? ' &middot; ' + escapeHtml(t.courier) : '') +
                        (t.drain_start ? ' &middot; drain ' + escapeHtml(fmtTS(t.drain_start)) : '') +
                    '</div>' +
                '</div>'
            ).join('');
        }

        function showAuditAlert(report) {
            const el = document.getElementById('alerts');
            const day = report && report.date ? report.date : '';
            el.innerHTML =
                '<div class="alert-banner">Audit flagged <a href="/audit?date=' +
                encodeURIComponent(day) + '">' + escapeHtml(day) + '</a>: ' +
                (report.flagged_tickets ? report.flagged_tickets.length : 0) + ' tickets, ' +
                (report.unlogged_drains ? report.unlogged_drains.length : 0) + ' unlogged drains</div>' +
                el.innerHTML;
            const banners = el.querySelectorAll('.alert-banner');
            for (let i = 3; i < banners.length; i++) banners[i].remove();
        }

        // ---- Dataset status ----

        function renderDatasets(states) {
            const el = document.getElementById('datasets');
            if (!states || states.length === 0) {
                el.innerHTML = '<div class="empty">No dataset state yet</div>';
                return;
            }
            el.innerHTML = states.map(ds => {
                const cls = ds.last_error ? 'err' : (ds.loaded ? 'ok' : '');
                return '<div class="ds-row" title="' + escapeHtml(ds.last_error || '') + '">' +
                    '<span class="ds-dot ' + cls + '"></span>' +
                    '<span class="ds-name">' + escapeHtml(ds.name) + '</span>' +
                    '<span class="ds-count mono">' + (ds.loaded ? ds.count : '&ndash;') + '</span>' +
                '</div>';
            }).join('');
        }

        // ---- WebSocket with polling fallback ----

        let ws = null;
        let wsUp = false;

        function setWSStatus(up) {
            wsUp = up;
            document.getElementById('ws-dot').className = 'live-dot' + (up ? '' : ' down');
            document.getElementById('ws-label').textContent = up ? 'Live' : 'Polling';
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(proto + location.host + '/ws');

            ws.onopen = () => setWSStatus(true);

            ws.onmessage = (msg) => {
                let ev;
                try { ev = JSON.parse(msg.data); } catch (e) { return; }
                if (ev.type === 'clock') {
                    updateClock(ev.data);
                } else if (ev.type === 'scene') {
                    lastScene = ev.data;
                    updateClock(ev.data.clock);
                    drawScene(ev.data);
                    renderTickets(ev.data.tickets);
                } else if (ev.type === 'audit_alert') {
                    showAuditAlert(ev.data);
                } else if (ev.type === 'dataset') {
                    renderDatasets(ev.data);
                }
            };

            ws.onclose = () => {
                setWSStatus(false);
                setTimeout(connect, 3000);
            };

            ws.onerror = () => ws.close();
        }

        async function poll() {
            const sc = await safeFetch('/v1/scene');
            if (sc) {
                lastScene = sc;
                updateClock(sc.clock);
                drawScene(sc);
                renderTickets(sc.tickets);
            }
        }

        async function pollDatasets() {
            const res = await safeFetch('/v1/datasets');
            if (res) renderDatasets(res.datasets);
        }

        // Seeks and dataset swaps land over the socket; polling covers the
        // gap when it is down.
        setInterval(() => { if (!wsUp) poll(); }, 3000);
        setInterval(pollDatasets, 30000);

        window.addEventListener('resize', () => { if (lastScene) drawScene(lastScene); });

        poll();
        pollDatasets();
        connect();
    </script>
</body>
</html>`

// dashboardHandler serves the timeline map dashboard
func dashboardHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}
