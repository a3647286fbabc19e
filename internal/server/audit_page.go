package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const auditPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Audit · Potionwatch</title>
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>⚗</text></svg>">
    <link rel="preconnect" href="https://fonts.googleapis.com">
    <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
    <link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600&family=JetBrains+Mono:wght@400;500&display=swap" rel="stylesheet">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --accent: #22c55e; --red: #ef4444; --amber: #f59e0b; --violet: #8b5cf6;
        }
        body {
            font-family: 'Inter', -apple-system, sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
            -webkit-font-smoothing: antialiased;
        }
        .mono { font-family: 'JetBrains Mono', monospace; }
        .container { max-width: 1000px; margin: 0 auto; padding: 0 24px; }
        header {
            border-bottom: 1px solid var(--border); padding: 16px 0;
            position: sticky; top: 0; background: var(--bg); z-index: 100;
        }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { display: flex; align-items: center; gap: 10px; text-decoration: none; color: var(--text); }
        .logo-mark { width: 28px; height: 28px; background: linear-gradient(135deg, var(--violet), var(--accent)); border-radius: 6px; }
        .logo-text { font-weight: 600; font-size: 15px; }
        nav { display: flex; gap: 32px; }
        nav a { color: var(--text-secondary); text-decoration: none; font-size: 13px; transition: color 0.15s; }
        nav a:hover, nav a.active { color: var(--text); }

        .audit-header {
            padding: 48px 0 24px;
            display: flex; justify-content: space-between; align-items: flex-end;
            border-bottom: 1px solid var(--border);
            flex-wrap: wrap; gap: 16px;
        }
        .audit-title { font-size: 24px; font-weight: 600; margin-bottom: 4px; }
        .audit-desc { color: var(--text-secondary); }
        .date-picker { display: flex; gap: 8px; align-items: center; }
        .date-picker input, .date-picker button {
            background: var(--bg-subtle); border: 1px solid var(--border);
            color: var(--text); border-radius: 6px; padding: 8px 12px; font-size: 14px;
        }
        .date-picker button { cursor: pointer; }
        .date-picker button:hover { border-color: var(--text-tertiary); }

        .stats {
            display: grid; grid-template-columns: repeat(4, 1fr);
            gap: 16px; padding: 24px 0;
        }
        @media (max-width: 700px) { .stats { grid-template-columns: repeat(2, 1fr); } }
        .stat {
            background: var(--bg-subtle); border: 1px solid var(--border);
            border-radius: 10px; padding: 16px;
        }
        .stat-label { font-size: 11px; color: var(--text-tertiary); text-transform: uppercase; letter-spacing: 0.05em; }
        .stat-value { font-size: 22px; font-weight: 600; margin-top: 4px; }
        .stat-value.bad { color: var(--red); }
        .stat-value.good { color: var(--accent); }

        .verdict {
            padding: 12px 16px; border-radius: 10px; margin-bottom: 24px;
            border: 1px solid var(--border); font-weight: 500;
        }
        .verdict.flagged { border-color: var(--red); background: rgba(239, 68, 68, 0.08); color: var(--red); }
        .verdict.clean { border-color: var(--accent); background: rgba(34, 197, 94, 0.08); color: var(--accent); }
        .verdict.nodata { color: var(--text-tertiary); }

        .tables { display: grid; gap: 24px; padding-bottom: 48px; }
        .table-section {
            background: var(--bg-subtle); border: 1px solid var(--border);
            border-radius: 10px; overflow: hidden;
        }
        .section-header {
            display: flex; justify-content: space-between; align-items: center;
            padding: 14px 16px; border-bottom: 1px solid var(--border);
        }
        .section-title {
            font-size: 13px; font-weight: 600; color: var(--text-secondary);
            text-transform: uppercase; letter-spacing: 0.05em;
        }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        th {
            text-align: left; padding: 10px 16px; color: var(--text-tertiary);
            font-weight: 500; font-size: 11px; text-transform: uppercase;
            border-bottom: 1px solid var(--border);
        }
        td { padding: 10px 16px; border-bottom: 1px solid var(--border); }
        tr:last-child td { border-bottom: none; }
        td.num { text-align: right; }
        th.num { text-align: right; }
        .empty { text-align: center; padding: 32px 24px; color: var(--text-tertiary); }

        .flagged-days { padding: 0 0 24px; }
        .day-chip {
            display: inline-block; background: var(--bg-subtle);
            border: 1px solid var(--red); color: var(--red);
            border-radius: 16px; padding: 4px 12px; margin: 4px 8px 4px 0;
            font-size: 12px; text-decoration: none; cursor: pointer;
        }
        .day-chip:hover { background: rgba(239, 68, 68, 0.1); }

        footer { border-top: 1px solid var(--border); padding: 24px 0; text-align: center; color: var(--text-tertiary); font-size: 13px; }
        footer a { color: var(--text-secondary); text-decoration: none; margin: 0 12px; }
    </style>
</head>
<body>
    <header><div class="container header-inner">
        <a href="/" class="logo"><div class="logo-mark"></div><span class="logo-text">Potionwatch</span></a>
        <nav>
            <a href="/">Dashboard</a>
            <a href="/audit" class="active">Audit</a>
        </nav>
    </div></header>

    <main class="container">
        <div class="audit-header">
            <div>
                <h1 class="audit-title">Daily Audit</h1>
                <p class="audit-desc">Drain events reconciled against transport tickets</p>
            </div>
            <div class="date-picker">
                <input type="date" id="date-input">
                <button id="run-audit">Audit day</button>
            </div>
        </div>

        <div class="flagged-days" id="flagged-days"></div>

        <div id="report-area">
            <div class="empty">Pick a day to audit</div>
        </div>
    </main>

    <footer><div class="container">
        <a href="/v1/audit/flagged">Flagged API</a>
        <a href="/query_days">Query API</a>
        <a href="/">Dashboard</a>
    </div></footer>

    <script>
        function escapeHtml(text) {
            if (text == null) return '';
            const div = document.createElement('div');
            div.textContent = String(text);
            return div.innerHTML;
        }

        const fmtL = n => (parseFloat(n) || 0).toFixed(2) + ' L';
        const fmtTS = ts => ts ? ts.slice(0, 10) + ' ' + ts.slice(11, 16) : '';

        async function safeFetch(url) {
            try {
                const r = await fetch(url);
                if (!r.ok) return null;
                return await r.json();
            } catch (e) { return null; }
        }

        function statCard(label, value, cls) {
            return '<div class="stat"><div class="stat-label">' + label +
                '</div><div class="stat-value mono ' + (cls || '') + '">' + value + '</div></div>';
        }

        function table(title, headers, rows) {
            let html = '<div class="table-section"><div class="section-header">' +
                '<span class="section-title">' + title + '</span>' +
                '<span class="section-title mono">' + rows.length + '</span></div>';
            if (rows.length === 0) {
                return html + '<div class="empty">None</div></div>';
            }
            html += '<table><thead><tr>' +
                headers.map(h => '<th' + (h.num ? ' class="num"' : '') + '>' + h.label + '</th>').join('') +
                '</tr></thead><tbody>';
            rows.forEach(cells => {
                html += '<tr>' + cells.map((c, i) =>
                    '<td class="mono' + (headers[i].num ? ' num' : '') + '">' + c + '</td>').join('') + '</tr>';
            });
            return html + '</tbody></table></div>';
        }

        function renderReport(report) {
            const area = document.getElementById('report-area');
            if (!report) {
                area.innerHTML = '<div class="empty">Audit failed; is the dataset loaded?</div>';
                return;
            }

            let verdict;
            if (!report.has_data) {
                verdict = '<div class="verdict nodata">No data for ' + escapeHtml(report.date) + '</div>';
            } else if (report.flagged) {
                verdict = '<div class="verdict flagged">' + escapeHtml(report.date) + ' is flagged</div>';
            } else {
                verdict = '<div class="verdict clean">' + escapeHtml(report.date) + ' reconciles</div>';
            }

            const disc = report.total_discrepancy || 0;
            const html = verdict +
                '<div class="stats">' +
                    statCard('Calculated drain', fmtL(report.total_calculated_drain)) +
                    statCard('Ticketed drain', fmtL(report.total_ticketed_drain)) +
                    statCard('Discrepancy', fmtL(Math.abs(disc)), Math.abs(disc) > 1 ? 'bad' : 'good') +
                    statCard('Matched tickets', (report.matches || []).length) +
                '</div>' +
                '<div class="tables">' +
                    table('Flagged tickets', [
                        { label: 'Ticket' }, { label: 'Cauldron' }, { label: 'Courier' },
                        { label: 'Amount', num: true }, { label: 'Date' }
                    ], (report.flagged_tickets || []).map(t => [
                        escapeHtml(t.ticket_id), escapeHtml(t.cauldron_id), escapeHtml(t.courier_id),
                        fmtL(t.amount_collected), escapeHtml(fmtTS(t.date))
                    ])) +
                    table('Unlogged drains', [
                        { label: 'Cauldron' }, { label: 'Start' }, { label: 'End' },
                        { label: 'Total', num: true }
                    ], (report.unlogged_drains || []).map(d => [
                        escapeHtml(d.cauldron_id), escapeHtml(fmtTS(d.start_time)),
                        escapeHtml(fmtTS(d.end_time)), fmtL(d.total_drain)
                    ])) +
                    table('Matches', [
                        { label: 'Ticket' }, { label: 'Cauldron' },
                        { label: 'Ticketed', num: true }, { label: 'Drained', num: true },
                        { label: 'Drain start' }
                    ], (report.matches || []).map(m => [
                        escapeHtml(m.ticket_id), escapeHtml(m.cauldron_id),
                        fmtL(m.amount_collected), fmtL(m.drain_total),
                        escapeHtml(fmtTS(m.drain_start))
                    ])) +
                '</div>';

            area.innerHTML = html;
        }

        async function auditDay(day) {
            if (!day) return;
            document.getElementById('date-input').value = day;
            document.getElementById('report-area').innerHTML = '<div class="empty">Auditing ' + escapeHtml(day) + '...</div>';
            const res = await safeFetch('/v1/audit/' + encodeURIComponent(day));
            renderReport(res ? res.report : null);
        }

        async function loadFlaggedDays() {
            const res = await safeFetch('/v1/audit/flagged?limit=31');
            const el = document.getElementById('flagged-days');
            if (!res || !res.reports || res.reports.length === 0) {
                el.innerHTML = '';
                return;
            }
            el.innerHTML = res.reports.map(r =>
                '<span class="day-chip" data-day="' + escapeHtml(r.date) + '">' + escapeHtml(r.date) + '</span>'
            ).join('');
            el.querySelectorAll('.day-chip').forEach(chip => {
                chip.addEventListener('click', () => auditDay(chip.dataset.day));
            });
        }

        document.getElementById('run-audit').addEventListener('click', () => {
            auditDay(document.getElementById('date-input').value);
        });

        // Deep links: /audit?date=2026-01-03 from dashboard alerts. Default
        // to the first day of the loaded range otherwise.
        async function init() {
            loadFlaggedDays();
            const params = new URLSearchParams(location.search);
            let day = params.get('date');
            if (!day) {
                const clock = await safeFetch('/v1/clock');
                if (clock && clock.has_range) day = clock.start.slice(0, 10);
            }
            if (day) auditDay(day);
        }

        init();
    </script>
</body>
</html>`

// auditPageHandler serves the day audit report view
func auditPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, auditPageHTML)
}
