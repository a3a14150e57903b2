package supertyphon

import (
	"context"
	"net"
	"net/http"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// withH2CServer serves HTTP/2 over cleartext (RFC 7540 Sections 3.2, 3.4) alongside HTTP/1.
//
// h2c connections are hijacked from the http.Server, so its Shutdown does not see them. They are tracked here and
// closed when the server stops.
func withH2CServer() ServerOption {
	return func(s *Server) {
		h2s := &http2.Server{}
		s.srv.Handler = h2c.NewHandler(s.srv.Handler, h2s)

		hijacked := mapset.NewSet() // of net.Conn
		var connStateM sync.Mutex
		prev := s.srv.ConnState
		s.srv.ConnState = func(c net.Conn, state http.ConnState) {
			if prev != nil {
				prev(c, state)
			}
			connStateM.Lock()
			defer connStateM.Unlock()
			if state == http.StateHijacked {
				hijacked.Add(c)
			}
		}
		s.addShutdownFunc(func(ctx context.Context) {
			connStateM.Lock()
			defer connStateM.Unlock()
			for _, c := range hijacked.ToSlice() {
				c.(net.Conn).Close()
			}
			hijacked.Clear()
		})
	}
}
