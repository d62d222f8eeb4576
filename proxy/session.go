package proxy

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Resource types guessed by the proxy.  They are the canonical names used in
// the filter rules.
const (
	typeDocument       = "document"
	typeFont           = "font"
	typeImage          = "image"
	typeMedia          = "media"
	typeObject         = "object"
	typeOther          = "other"
	typeScript         = "script"
	typeStylesheet     = "stylesheet"
	typeXMLHTTPRequest = "xmlhttprequest"
)

// session is the state of a single proxied request.  It is created when the
// request headers are received and updated when the response headers are.
type session struct {
	httpReq *http.Request

	id           string
	url          string
	pageURL      string
	resourceType string
}

// newSession returns a new session for req.  The resource type is guessed from
// the Accept header and the URL.
func newSession(id string, req *http.Request) (s *session) {
	return &session{
		httpReq:      req,
		id:           id,
		url:          req.URL.String(),
		pageURL:      req.Referer(),
		resourceType: assumeRequestType(req, nil),
	}
}

// setResponse updates the resource type using the response headers.  It
// returns true if the type changed.
func (s *session) setResponse(res *http.Response) (changed bool) {
	typ := assumeRequestType(s.httpReq, res)
	if typ == s.resourceType {
		return false
	}

	s.resourceType = typ

	return true
}

// assumeRequestType assumes the request type from what we know at this point.
// res is nil if the response hasn't been received yet.
func assumeRequestType(req *http.Request, res *http.Response) (typ string) {
	if res != nil {
		mediaType, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type"))

		return assumeRequestTypeFromMediaType(mediaType)
	}

	typ = assumeRequestTypeFromMediaType(req.Header.Get("Accept"))
	if typ == typeOther {
		typ = assumeRequestTypeFromURL(req.URL)
	}

	return typ
}

// mediaTypePrefixes maps the media type prefixes to the resource types.  The
// m3u playlists are treated as documents since they may refer to video ads.
var mediaTypePrefixes = []struct {
	prefix string
	typ    string
}{
	{"application/xhtml", typeDocument},
	{"audio/x-mpegurl", typeDocument},
	{"text/html", typeDocument},
	{"text/css", typeStylesheet},
	{"application/javascript", typeScript},
	{"application/x-javascript", typeScript},
	{"text/javascript", typeScript},
	{"image/", typeImage},
	{"application/x-shockwave-flash", typeObject},
	{"application/font", typeFont},
	{"application/vnd.ms-fontobject", typeFont},
	{"application/x-font-", typeFont},
	{"font/", typeFont},
	{"audio/", typeMedia},
	{"video/", typeMedia},
	{"application/json", typeXMLHTTPRequest},
}

// assumeRequestTypeFromMediaType detects the resource type from the media
// type or the Accept header value.
func assumeRequestTypeFromMediaType(mediaType string) (typ string) {
	mediaType = strings.ToLower(mediaType)
	for _, p := range mediaTypePrefixes {
		if strings.HasPrefix(mediaType, p.prefix) {
			return p.typ
		}
	}

	return typeOther
}

var fileExtensions = map[string]string{
	".js":     typeScript,
	".vbs":    typeScript,
	".coffee": typeScript,

	".jpg":  typeImage,
	".jpeg": typeImage,
	".gif":  typeImage,
	".png":  typeImage,
	".tiff": typeImage,
	".psd":  typeImage,
	".ico":  typeImage,
	".svg":  typeImage,
	".webp": typeImage,

	".css":  typeStylesheet,
	".less": typeStylesheet,

	".jar": typeObject,
	".swf": typeObject,

	".wav":  typeMedia,
	".mp3":  typeMedia,
	".mp4":  typeMedia,
	".avi":  typeMedia,
	".flv":  typeMedia,
	".m3u":  typeMedia,
	".webm": typeMedia,
	".mpeg": typeMedia,
	".3gp":  typeMedia,
	".ogg":  typeMedia,
	".mov":  typeMedia,
	".mkv":  typeMedia,
	".gifv": typeMedia,

	".ttf":   typeFont,
	".otf":   typeFont,
	".woff":  typeFont,
	".woff2": typeFont,
	".eot":   typeFont,

	".json": typeXMLHTTPRequest,
}

// assumeRequestTypeFromURL assumes the request type from the file extension.
func assumeRequestTypeFromURL(u *url.URL) (typ string) {
	typ, ok := fileExtensions[strings.ToLower(path.Ext(u.Path))]
	if !ok {
		return typeOther
	}

	return typ
}
