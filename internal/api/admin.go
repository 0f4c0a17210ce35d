package api

// adminDoc is the API documentation page served at GET /admin, carried over
// from the original implementation's embedded ADMIN_DOC constant and
// re-authored in English rather than copied verbatim.
const adminDoc = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>market-order gateway — API reference</title>
</head>
<body>
<h1>market-order gateway</h1>
<p>Multi-tenant order-to-task scheduling gateway. Routes:</p>
<ul>
<li>GET /ping, GET /myip, GET /state, GET /markets, GET /config</li>
<li>POST /create-token/, POST /update-token/, DELETE /cutout-token/{id}</li>
<li>GET /token-info, GET /token-info/{id}, GET /test-token</li>
<li>POST /valid-order, POST /order</li>
<li>GET|POST /task/{hash}, ANY /task-ws/{hash} (protocol: send-only)</li>
</ul>
<p>Authenticate with <code>Authorization: Bearer &lt;token&gt;</code>.
Admin routes require the master token.</p>
</body>
</html>`
