package server

import "net/http"

// Pre-allocated response body and header value slice.
// okBody avoids a []byte("ok") heap escape per call.
// plainCT avoids the []string{v} alloc from Header.Set (see proxy.go:jsonCT).
var (
	okBody       = []byte("ok")
	notReadyBody = []byte("not ready")
	plainCT      = []string{"text/plain"}
)

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

// handleReadyz reports ready only once the controller is serving and the
// store answers. A cold start still installing reports not ready so a load
// balancer holds traffic until the shell is precached.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := s.deps.Controller == nil || s.deps.Controller.Ready()
	if ready && s.deps.ReadyCheck != nil {
		ready = s.deps.ReadyCheck(r.Context()) == nil
	}
	if !ready {
		w.Header()["Content-Type"] = plainCT
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write(notReadyBody)
		return
	}
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}
