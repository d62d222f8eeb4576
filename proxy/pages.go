package proxy

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
)

const blockedPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Request blocked</title>
</head>
<body>
<h1>Request to {{.Hostname}} blocked</h1>
<p>{{.URL}}</p>
</body>
</html>
`

var blockedPageTmpl = template.Must(template.New("blocked").Parse(blockedPage))

type blockedPageParameters struct {
	Hostname string
	URL      string
}

// buildBlockedPage builds the blocked page content.
func buildBlockedPage(logger *slog.Logger, sess *session) (page []byte) {
	params := blockedPageParameters{
		Hostname: sess.httpReq.URL.Hostname(),
		URL:      sess.url,
	}

	data := &bytes.Buffer{}
	if err := blockedPageTmpl.Execute(data, params); err != nil {
		logger.Error("building blocked page", "id", sess.id, slogutil.KeyError, err)

		return nil
	}

	return data.Bytes()
}

// newBlockedResponse creates an HTTP response for a blocked request.
func newBlockedResponse(logger *slog.Logger, sess *session) (res *http.Response) {
	page := buildBlockedPage(logger, sess)
	res = proxyutil.NewResponse(http.StatusForbidden, bytes.NewReader(page), sess.httpReq)
	res.Close = true
	res.ContentLength = int64(len(page))
	res.Header.Set("Content-Type", "text/html; charset=utf-8")

	return res
}
