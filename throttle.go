package supertyphon

import (
	"strconv"

	"github.com/monzo/terrors"
	"golang.org/x/time/rate"
)

// ThrottleFilter holds every request back until the limiter allows it. Retries and redirect hops are throttled like
// any other request.
func ThrottleFilter(limiter *rate.Limiter) Filter {
	return func(req Request, svc Service) Response {
		if err := limiter.Wait(req.Context); err != nil {
			return Response{
				Request: &req,
				Error: terrors.Wrap(err, map[string]string{
					"limit": strconv.FormatFloat(float64(limiter.Limit()), 'f', -1, 64)})}
		}
		return svc(req)
	}
}
