package castest

import "html/template"

const layoutHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>CAS - Central Authentication Service</title>
</head>
<body>
<main id="main-content" role="main">
<div id="login">
`

const layoutTail = `</div>
</main>
</body>
</html>
`

var loginTemplate = template.Must(template.New("login").Parse(layoutHead + `
<form id="fm1" method="post" action="{{.Action}}">
  <h2>Enter Username &amp; Password</h2>
  {{if .Flash}}<div id="loginErrorsPanel" class="banner banner-danger">{{.Flash}}</div>{{end}}
  <label for="username">Username:</label>
  <input id="username" name="username" type="text" autocomplete="username">
  <label for="password">Password:</label>
  <input id="password" name="password" type="password" autocomplete="current-password">
  <input type="hidden" name="execution" value="{{.Execution}}">
  <input type="hidden" name="_eventId" value="submit">
  <button class="mdc-button" name="submit" accesskey="l" type="submit">Login</button>
</form>
` + layoutTail))

var aupTemplate = template.Must(template.New("aup").Parse(layoutHead + `
<form id="fm1" method="post" action="{{.Action}}">
  <h3>Acceptable Usage Policy</h3>
  <p id="aupPolicy">By continuing you agree to use this service in accordance with the policy.</p>
  <input type="hidden" name="execution" value="{{.Execution}}">
  <input type="hidden" name="_eventId" value="submit">
  <button class="mdc-button" name="submit" type="submit"{{if .HideButtons}} style="display: none"{{end}}>Accept</button>
  <button class="mdc-button" name="cancel" type="submit" formaction="{{.Action}}" value="cancel" onclick="this.form._eventId.value='cancel'"{{if .HideButtons}} style="display: none"{{else if .ZeroSizeCancel}} style="width: 0; height: 0; padding: 0; border: 0; overflow: hidden"{{end}}>Cancel</button>
</form>
` + layoutTail))

var appTemplate = template.Must(template.New("app").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Example Application</title></head>
<body>
<h1 id="app">Example Application</h1>
{{if .Ticket}}<p id="ticket-received">Service ticket received.</p>{{end}}
</body>
</html>
`))
