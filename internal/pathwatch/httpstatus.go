// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package pathwatch

import (
	"html/template"
	"net/http"
)

const statusTemplate = `
<!DOCTYPE html>
<html>
<head>
<title>pathwatch on {{.BindAddress}}</title>
</head>
<body>
<h1>pathwatch on {{.BindAddress}}</h1>
<p>Build: {{.BuildInfo}}</p>
<p>Session: {{.SessionID}}</p>
<p>Watching:</p>
<ul>
{{range .Roots}}<li><code>{{.}}</code></li>
{{end}}</ul>
<p>Cursor: {{.Cursor}}</p>
<p>Metrics: <a href="/metrics">prometheus</a></p>
<p>Debug: <a href="/debug/pprof">debug/pprof</a>, <a href="/debug/vars">debug/vars</a>, <a href="/tracez">tracez</a></p>
</body>
</html>
`

// ServeHTTP serves the root status page.
func (m *Server) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	t, err := template.New("status").Parse(statusTemplate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data := struct {
		BindAddress string
		BuildInfo   string
		SessionID   string
		Roots       []string
		Cursor      uint64
	}{
		m.bindAddress,
		m.buildInfo.String(),
		m.sessionID.String(),
		m.Roots(),
		m.Cursor(),
	}
	w.Header().Add("Content-type", "text/html")
	w.WriteHeader(http.StatusOK)
	if err := t.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
