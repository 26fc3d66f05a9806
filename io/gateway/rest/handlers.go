package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vadiminshakov/ledgerpool/core/dto"
	"github.com/vadiminshakov/ledgerpool/core/pool"
	"github.com/vadiminshakov/ledgerpool/core/poolerr"
)

// StatusOf maps a pool error to the HTTP status reported for it.
func StatusOf(err error) int {
	switch poolerr.KindOf(err) {
	case poolerr.KindRequest:
		return http.StatusBadRequest
	case poolerr.KindNoConsensus:
		return http.StatusConflict
	case poolerr.KindTimeout:
		return http.StatusGatewayTimeout
	case poolerr.KindConnection:
		return http.StatusBadGateway
	case poolerr.KindCancelled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func reply(c echo.Context, out dto.Outcome[string]) error {
	if out.Failed() {
		return c.String(StatusOf(out.Err), out.Err.Error())
	}
	return c.String(http.StatusOK, out.Value+"\n\n"+out.Timing.String())
}

// seqNo returns the seq query parameter, or the next number of the server's
// own counter.
func (s *Server) seqNo(c echo.Context) (int, error) {
	raw := c.QueryParam("seq")
	if raw == "" {
		return s.nextSeqNo(), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "seq must be a positive integer")
	}
	return n, nil
}

func version(c echo.Context) *string {
	if v := c.QueryParam("version"); v != "" {
		return &v
	}
	return nil
}

func (s *Server) GetTxn(c echo.Context) error {
	seqNo, err := s.seqNo(c)
	if err != nil {
		return err
	}
	return reply(c, pool.GetTxn(c.Request().Context(), s.pool, dto.LedgerDomain, seqNo))
}

func (s *Server) GetTxnFull(c echo.Context) error {
	seqNo, err := s.seqNo(c)
	if err != nil {
		return err
	}
	return reply(c, pool.GetTxnFull(c.Request().Context(), s.pool, dto.LedgerDomain, seqNo))
}

func (s *Server) Status(c echo.Context) error {
	out := pool.GetValidatorInfo(c.Request().Context(), s.pool)
	if out.Failed() {
		return c.String(StatusOf(out.Err), out.Err.Error())
	}

	replies := make(map[string]json.RawMessage, len(out.Value))
	for node, r := range out.Value {
		replies[node] = json.RawMessage(r)
	}
	body, err := json.Marshal(replies)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, string(body)+"\n\n"+out.Timing.String())
}

// Genesis returns the pool transactions without contacting any node.
func (s *Server) Genesis(c echo.Context) error {
	return c.String(http.StatusOK, pool.GenesisLog(s.pool))
}

func (s *Server) TAA(c echo.Context) error {
	return reply(c, pool.GetTxnAuthorAgreement(c.Request().Context(), s.pool, version(c)))
}

func (s *Server) AML(c echo.Context) error {
	return reply(c, pool.GetAcceptanceMechanisms(c.Request().Context(), s.pool, version(c)))
}

// Submit forwards a client built request. ?node= pins it to one node.
func (s *Server) Submit(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return c.NoContent(http.StatusBadRequest)
	}

	var node *string
	if n := c.QueryParam("node"); n != "" {
		node = &n
	}
	out := pool.SubmitRequest(c.Request().Context(), s.pool, body, node)
	if out.Failed() {
		return c.String(StatusOf(out.Err), out.Err.Error())
	}
	c.Response().Header().Set("X-Timing", out.Timing.String())
	return c.String(http.StatusOK, out.Value)
}
