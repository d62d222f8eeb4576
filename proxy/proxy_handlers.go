package proxy

import (
	"fmt"
	"net/http"

	"github.com/AdguardTeam/gomitmproxy"
)

// onRequest handles the outgoing HTTP requests.
func (s *Server) onRequest(gs *gomitmproxy.Session) (req *http.Request, res *http.Response) {
	req = gs.Request()
	if req.Method == http.MethodConnect {
		return nil, nil
	}

	sess := newSession(gs.ID(), req)
	gs.SetProp(sessionPropKey, sess)

	res = s.filterRequest(sess)
	if res != nil {
		// Mark the request as blocked so that onResponse doesn't check it
		// again.
		gs.SetProp(blockedPropKey, true)

		return nil, res
	}

	return req, nil
}

// onResponse handles all the responses.
func (s *Server) onResponse(gs *gomitmproxy.Session) (res *http.Response) {
	if _, ok := gs.GetProp(blockedPropKey); ok {
		return nil
	}

	v, ok := gs.GetProp(sessionPropKey)
	if !ok {
		s.logger.Error("session not found", "id", gs.ID())

		return nil
	}

	sess, ok := v.(*session)
	if !ok {
		s.logger.Error("session not found", "id", gs.ID(), "type", fmt.Sprintf("%T", v))

		return nil
	}

	return s.filterResponse(sess, gs.Response())
}

// filterRequest returns the blocked page response if the request must be
// blocked and nil otherwise.
func (s *Server) filterRequest(sess *session) (res *http.Response) {
	if !s.blocker.ShouldBlock(sess.url, sess.resourceType, sess.pageURL) {
		return nil
	}

	s.logger.Debug("blocked request", "id", sess.id, "url", sess.url, "type", sess.resourceType)

	return newBlockedResponse(s.logger, sess)
}

// filterResponse checks the request again if the response headers changed its
// resource type.  It returns the blocked page response if the request must be
// blocked and nil if the original response must be used.
func (s *Server) filterResponse(sess *session, orig *http.Response) (res *http.Response) {
	if orig == nil || !sess.setResponse(orig) {
		return nil
	}

	res = s.filterRequest(sess)
	if res != nil && orig.Body != nil {
		// The error is not important since the body is dropped.
		_ = orig.Body.Close()
	}

	return res
}
