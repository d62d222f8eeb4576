package api

import (
	"strings"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/gofiber/fiber/v2"
)

// StandardError is the body of the error responses.
type StandardError struct {
	Message string `json:"error"`
}

// CheckResult is the body of the check response.
type CheckResult struct {
	// Rule is the text of the blocking rule.  It is empty if the request is
	// not blocked.
	Rule string `json:"rule,omitempty"`

	// Blocked is true if the request must be blocked.
	Blocked bool `json:"blocked"`
}

// GetStats returns the engine statistics.
func (s *Server) GetStats(c *fiber.Ctx) (err error) {
	return c.JSON(s.engine.Stats())
}

// Check checks the request given by the url, type and page query
// parameters.
func (s *Server) Check(c *fiber.Ctx) (err error) {
	// The values may outlive the request in the decision cache of the engine.
	url := strings.Clone(c.Query("url"))
	if url == "" {
		return c.Status(fiber.StatusBadRequest).JSON(&StandardError{Message: "url is required"})
	}

	typ, page := strings.Clone(c.Query("type")), strings.Clone(c.Query("page"))

	res := &CheckResult{
		Blocked: s.engine.ShouldBlock(url, typ, page),
	}

	if res.Blocked {
		if r := s.engine.MatchingRule(url, typ, page); r != nil {
			res.Rule = r.Text
		}
	}

	return c.JSON(res)
}

// Reload reloads the filter lists and returns the new statistics.
func (s *Server) Reload(c *fiber.Ctx) (err error) {
	ctx := c.UserContext()

	err = s.engine.Reload(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "reload requested over api", slogutil.KeyError, err)

		return c.Status(fiber.StatusInternalServerError).JSON(&StandardError{Message: err.Error()})
	}

	return c.JSON(s.engine.Stats())
}
