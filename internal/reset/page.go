package reset

import (
	"html/template"
	"io"
)

// The inline script covers what the server cannot reach: web storage and
// cookies written by script on other paths.
var pageTemplate = template.Must(template.New("clear-auth").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Clearing session</title>
</head>
<body>
<main>
  <h1>Clearing your session</h1>
  <p id="status">Removing stored sign-in data&hellip;</p>
  <ul>
  {{- range .Steps}}
    <li>{{.Name}}: {{if .Error}}failed ({{.Error}}){{else}}ok{{end}}</li>
  {{- end}}
  </ul>
  <button type="button" id="again">Clear again</button>
</main>
<script>
(function () {
  var login = {{.Redirect}};
  function wipeStorage(store) {
    try {
      store.clear();
      for (var i = store.length - 1; i >= 0; i--) {
        var k = store.key(i);
        if (k && k.indexOf({{.Prefix}}) === 0) store.removeItem(k);
      }
    } catch (e) {}
  }
  function wipeCookies() {
    var host = window.location.hostname;
    var parts = host.split('.');
    var domains = ['', host, '.' + host];
    if (parts.length > 2) {
      var parent = parts.slice(1).join('.');
      domains.push(parent, '.' + parent);
    }
    var paths = ['/', '/api', '/auth'];
    document.cookie.split(';').forEach(function (c) {
      var name = c.split('=')[0].trim();
      if (!name) return;
      domains.forEach(function (d) {
        paths.forEach(function (p) {
          document.cookie = name + '=; expires=Thu, 01 Jan 1970 00:00:00 GMT; path=' + p + (d ? '; domain=' + d : '');
        });
      });
    });
  }
  function run() {
    fetch('/api/auth/clear', { method: 'POST', credentials: 'include' })
      .catch(function () {})
      .then(function () {
        wipeStorage(window.localStorage);
        wipeStorage(window.sessionStorage);
        wipeCookies();
        document.getElementById('status').textContent = 'Done. Redirecting to sign in.';
        window.location.replace(login);
      });
  }
  document.getElementById('again').addEventListener('click', run);
  run();
})();
</script>
</body>
</html>
`))

type pageData struct {
	Report
	Prefix string
}

// RenderPage writes the hard-reset page for report.
func RenderPage(w io.Writer, report Report) error {
	return pageTemplate.Execute(w, pageData{Report: report, Prefix: SessionKeyPrefix})
}
