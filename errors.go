package supertyphon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	legacyproto "github.com/golang/protobuf/proto"
	"github.com/monzo/slog"
	"github.com/monzo/terrors"
	terrorsproto "github.com/monzo/terrors/proto"
)

// httpStatusParam is the terror param carrying the status of the response an error was decoded from.
const httpStatusParam = "http_status"

var (
	// ErrNoLocation is the error of a Test whose response had a redirect status but no Location header.
	ErrNoLocation = errors.New("No location header for redirect")

	mapTerr2Status = map[string]int{
		terrors.ErrBadRequest:         http.StatusBadRequest,          // 400
		terrors.ErrBadResponse:        http.StatusNotAcceptable,       // 406
		terrors.ErrForbidden:          http.StatusForbidden,           // 403
		terrors.ErrInternalService:    http.StatusInternalServerError, // 500
		terrors.ErrNotFound:           http.StatusNotFound,            // 404
		terrors.ErrPreconditionFailed: http.StatusPreconditionFailed,  // 412
		terrors.ErrTimeout:            http.StatusGatewayTimeout,      // 504
		terrors.ErrUnauthorized:       http.StatusUnauthorized,        // 401
		terrors.ErrRateLimited:        http.StatusTooManyRequests,     // 429
	}
	mapStatus2Terr map[int]string
)

func init() {
	mapStatus2Terr = make(map[int]string, len(mapTerr2Status))
	for k, v := range mapTerr2Status {
		mapStatus2Terr[v] = k
	}
}

// ErrorStatusCode returns a HTTP status code for the given error.
//
// If the error is not a terror, this will always be 500 (Internal Server Error).
func ErrorStatusCode(err error) int {
	code := terrors.Wrap(err, nil).(*terrors.Error).Code
	if c, ok := mapTerr2Status[strings.SplitN(code, ".", 2)[0]]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// status2TerrCode converts HTTP status codes to a roughly equivalent terrors' code
func status2TerrCode(code int) string {
	if c, ok := mapStatus2Terr[code]; ok {
		return c
	}
	if code < 500 {
		return terrors.ErrBadRequest
	}
	return terrors.ErrInternalService
}

// ErrorStatus returns the HTTP status of the response the passed error was decoded from, if it was.
func ErrorStatus(err error) (int, bool) {
	terr, ok := err.(*terrors.Error)
	if !ok {
		return 0, false
	}
	status, convErr := strconv.Atoi(terr.Params[httpStatusParam])
	if convErr != nil {
		return 0, false
	}
	return status, true
}

func configurationError(app interface{}) error {
	return terrors.BadRequest("invalid_target", "unable to identify or create a valid test server", map[string]string{
		"target_type": fmt.Sprintf("%T", app)})
}

// IsConfigurationError reports whether err was returned because New could not make sense of its target.
func IsConfigurationError(err error) bool {
	return terrors.PrefixMatches(err, terrors.ErrBadRequest, "invalid_target")
}

// ErrorFilter serialises response errors onto the wire. Managed servers run every handler target behind it, so that a
// Service which answers with an error produces a status and a Terror body the client side can decode.
func ErrorFilter(req Request, svc Service) Response {
	var rsp Response

	// req.err being non-nil means we could not construct the underlying http.Request, so there is nothing to serve
	if req.err != nil {
		rsp = NewResponse(req)
		rsp.Error = req.err
	} else {
		rsp = svc(req)
		if rsp.Response == nil {
			rsp.Response = newHTTPResponse(req, http.StatusOK)
		}
	}
	if rsp.Request == nil {
		rsp.Request = &req
	}

	// An error on a response which otherwise looks successful is marshalled as a Terror
	if rsp.Error != nil && rsp.StatusCode == http.StatusOK {
		if rsp.Body != nil {
			rsp.Body.Close()
		}
		rsp.Body = &bufCloser{}
		rsp.ContentLength = 0
		terr := terrors.Wrap(rsp.Error, nil).(*terrors.Error)
		rsp.Encode(terrors.Marshal(terr))
		rsp.StatusCode = ErrorStatusCode(terr)
		rsp.Header.Set("Terror", "1")
	}
	return rsp
}

// StatusErrorFilter decodes error responses received from the wire. A Response whose status is 4xx or 5xx carries an
// error (a terror, when the server sent one) with its status recorded in the http_status param; a Request which could
// not be built never reaches the Service.
//
// Unlike ErrorFilter, a Response which was never received stays without an underlying http.Response.
func StatusErrorFilter(req Request, svc Service) Response {
	if req.err != nil {
		return Response{
			Request: &req,
			Error:   terrors.WrapWithCode(req.err, nil, terrors.ErrBadRequest)}
	}

	rsp := svc(req)
	if rsp.Request == nil {
		rsp.Request = &req
	}
	if rsp.Error != nil || rsp.Response == nil || rsp.StatusCode < 400 || rsp.StatusCode > 599 {
		return rsp
	}

	status := strconv.Itoa(rsp.StatusCode)
	b, _ := rsp.BodyBytes(false)
	switch rsp.Header.Get("Terror") {
	case "1":
		tp := &terrorsproto.Error{}
		var err error
		if isProtobufContentType(rsp.Header.Get("Content-Type")) {
			err = legacyproto.Unmarshal(b, tp)
		} else {
			err = json.Unmarshal(b, tp)
		}
		if err != nil {
			slog.Warn(req, "Failed to unmarshal terror: %v", err)
			break
		}
		terr := terrors.Unmarshal(tp)
		if terr.Params == nil {
			terr.Params = map[string]string{}
		}
		terr.Params[httpStatusParam] = status
		rsp.Error = terr
		return rsp
	}

	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = fmt.Sprintf("Response error (%d)", rsp.StatusCode)
	}
	rsp.Error = terrors.New(status2TerrCode(rsp.StatusCode), msg, map[string]string{
		httpStatusParam: status})
	return rsp
}
