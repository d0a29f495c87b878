package view

import (
	"bytes"
	"html/template"
	"time"
)

// VerificationPageData fills the verification instructions page.
type VerificationPageData struct {
	Title     string
	Username  string
	Token     string
	ExpiresAt time.Time
	Attempts  int
	Remaining int
	Linked    bool
	Pending   bool
}

var verificationPageTmpl = template.Must(template.New("verification_page").Funcs(template.FuncMap{
	"clock": func(t time.Time) string { return t.UTC().Format("15:04:05") },
	"unix":  func(t time.Time) int64 { return t.Unix() },
}).Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<title>{{if .Title}}{{.Title}}{{else}}Verify your Krunker account{{end}}</title>
	<style>
		:root {
			--bg: #090a0f;
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #facc15;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(520px, 92vw);
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
		}
		h1 { font-size: 1.5rem; margin-bottom: 6px; }
		p { color: var(--muted); margin-top: 0; }
		ol { color: var(--muted); padding-left: 20px; line-height: 1.7; }
		.code {
			margin: 24px 0;
			padding: 18px;
			border-radius: 14px;
			background: rgba(250, 204, 21, 0.07);
			border: 1px solid rgba(250, 204, 21, 0.3);
			font-family: ui-monospace, SFMono-Regular, Menlo, monospace;
			font-size: 1.4rem;
			letter-spacing: 0.08em;
			text-align: center;
			user-select: all;
		}
		.meta { margin-top: 16px; font-size: 0.85rem; color: rgba(231, 236, 255, 0.65); }
	</style>
</head>
<body>
	<div class="card">
		{{if .Linked}}
		<h1>Account linked</h1>
		<p>This chat account is linked to <strong>{{.Username}}</strong>.</p>
		{{else if .Pending}}
		<h1>Verify {{.Username}}</h1>
		<p>Prove you own this Krunker account by posting the code below.</p>

		<div class="code">{{.Token}}</div>

		<ol>
			<li>Open Krunker and sign in as <strong>{{.Username}}</strong>.</li>
			<li>Post the code on your social feed exactly as shown.</li>
			<li>Back in chat, run <code>&amp;verify</code>.</li>
		</ol>

		<div class="meta">
			Expires at {{clock .ExpiresAt}} UTC (<span id="countdown"></span>).
			{{.Remaining}} failed checks left.
		</div>
		{{else}}
		<h1>No pending verification</h1>
		<p>The code expired or was used. Run <code>&amp;link &lt;username&gt;</code> in chat to get a new one.</p>
		{{end}}
	</div>

	{{if .Pending}}
	<script>
		(function() {
			const deadline = {{unix .ExpiresAt}} * 1000;
			const countdown = document.getElementById("countdown");
			const tick = () => {
				const left = Math.max(0, Math.round((deadline - Date.now()) / 1000));
				countdown.textContent = left > 0 ? left + "s left" : "expired";
				if (left > 0) {
					setTimeout(tick, 1000);
				}
			};
			tick();
		})();
	</script>
	{{end}}
</body>
</html>
`))

// RenderVerificationPage expands the verification page template.
func RenderVerificationPage(data VerificationPageData) (string, error) {
	var buf bytes.Buffer
	if err := verificationPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
