package supertyphon

import "github.com/monzo/terrors"

// ExpirationFilter provides admission control; it rejects requests whose context is already done, so that a Test
// which has been cancelled (or a retry scheduled after cancellation) never dials.
func ExpirationFilter(req Request, svc Service) Response {
	select {
	case <-req.Context.Done():
		return Response{
			Request: &req,
			Error:   terrors.BadRequest("expired", "Request has expired", nil)}
	default:
		return svc(req)
	}
}
