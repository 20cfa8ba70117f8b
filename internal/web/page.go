package web

import (
	"html/template"

	"github.com/tailscale-portfolio/directory-ui/internal/directory"
	"github.com/tailscale-portfolio/directory-ui/internal/viewstate"
)

const createdLayout = "2 Jan 2006, 15:04"

type userRow struct {
	ID      string
	ShortID string
	Email   string
	Deleted bool
	Created string
}

type homePage struct {
	Signed    bool
	Email     string
	Loading   bool
	Failed    bool
	Error     string
	Empty     bool
	Count     int
	Rows      []userRow
	BackendUp bool
}

// newHomePage derives what the template shows from a controller snapshot.
// Exactly one of Loading, Failed, Empty or Rows is set for a signed-in view.
func newHomePage(st viewstate.State) homePage {
	page := homePage{Count: len(st.Users)}
	if st.Status == viewstate.StatusUnauthenticated || st.Identity == nil {
		return page
	}
	page.Signed = true
	page.Email = st.Identity.Email
	// A refresh keeps the previous users, so the backend stays green while it runs.
	page.BackendUp = len(st.Users) > 0

	switch st.Status {
	case viewstate.StatusIdle, viewstate.StatusLoading:
		page.Loading = true
	case viewstate.StatusError:
		page.Failed = true
		page.Error = st.ErrorMessage
	case viewstate.StatusSuccess:
		if len(st.Users) == 0 {
			page.Empty = true
			break
		}
		page.Rows = make([]userRow, 0, len(st.Users))
		for _, u := range st.Users {
			page.Rows = append(page.Rows, newUserRow(u))
		}
	}
	return page
}

func newUserRow(u directory.User) userRow {
	created := u.CreatedAt
	if t, ok := u.CreatedTime(); ok {
		created = t.Format(createdLayout)
	}
	return userRow{
		ID:      u.ID,
		ShortID: u.ShortID(),
		Email:   u.Email,
		Deleted: u.IsDeleted,
		Created: created,
	}
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    {{if .Loading}}<meta http-equiv="refresh" content="1">{{end}}
    <title>User Directory</title>
    <style>
        body { font-family: sans-serif; margin: 2rem; background: #f0fdfa; color: #0f172a; }
        .card { max-width: 960px; margin: 0 auto 1.5rem; padding: 1.5rem; background: #fff; border: 1px solid #e2e8f0; border-radius: 8px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid #e2e8f0; }
        th { font-size: 0.75rem; text-transform: uppercase; color: #64748b; }
        .mono { font-family: monospace; }
        .badge { padding: 0.1rem 0.5rem; border-radius: 999px; font-size: 0.75rem; font-weight: 600; }
        .badge.active { background: #dcfce7; color: #166534; }
        .badge.deleted { background: #fee2e2; color: #991b1b; }
        .error { background: #fef2f2; border: 1px solid #fecaca; padding: 1rem; border-radius: 6px; color: #b91c1c; }
        .muted { color: #64748b; text-align: center; padding: 2rem 0; }
        .dot { display: inline-block; width: 0.75rem; height: 0.75rem; border-radius: 50%; margin-right: 0.5rem; }
        .dot.up { background: #22c55e; }
        .dot.degraded { background: #eab308; }
    </style>
</head>
<body>
{{if not .Signed}}
<div class="card" style="text-align:center;">
    <h1>User Directory</h1>
    <p>Sign in to see the list of registered users.</p>
    <p><a href="/login">Sign in</a></p>
</div>
{{else}}
<div class="card">
    <h1>Welcome, {{.Email}}!</h1>
    <p>All registered users reported by the users backend:</p>
</div>
<div class="card">
    <h2>Registered users ({{.Count}})</h2>
    {{if .Loading}}
        <p class="muted">Loading users...</p>
    {{else if .Failed}}
        <div class="error">
            <p>Error: {{.Error}}</p>
            <form method="POST" action="/retry"><button type="submit">Try again</button></form>
        </div>
    {{else if .Empty}}
        <p class="muted">No registered users.</p>
    {{else}}
        <table>
            <thead><tr><th>ID</th><th>Email</th><th>Status</th><th>Registered</th></tr></thead>
            <tbody>
            {{range .Rows}}
                <tr>
                    <td class="mono" title="{{.ID}}">{{.ShortID}}</td>
                    <td>{{.Email}}</td>
                    <td>{{if .Deleted}}<span class="badge deleted">Deleted</span>{{else}}<span class="badge active">Active</span>{{end}}</td>
                    <td>{{.Created}}</td>
                </tr>
            {{end}}
            </tbody>
        </table>
    {{end}}
</div>
<div class="card">
    <h3>Connection status</h3>
    <p><span class="dot up"></span>Directory UI</p>
    <p><span class="dot {{if .BackendUp}}up{{else}}degraded{{end}}"></span>Users backend</p>
    <p><a href="/logout">Sign out</a></p>
</div>
{{end}}
</body>
</html>`))
