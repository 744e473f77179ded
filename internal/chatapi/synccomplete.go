package chatapi

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/driverqueue/dispatcher/internal/ops"
)

// SyncNotifier is told when the external ETL's sync run has finished.
type SyncNotifier interface {
	SyncComplete(ctx context.Context)
}

// SyncCompleteHandler serves the external ETL's completion callback: the one
// signal that clears the core's global sync-in-progress gate. Authenticated
// by the same shared password that gates /sync in chat, compared in
// constant time, rather than the JWT admin-handshake flow -- the ETL is not
// a chat participant and has no session to hand a token to.
type SyncCompleteHandler struct {
	notifier SyncNotifier
	password string
	log      ops.Logger
}

// NewSyncCompleteHandler returns a handler that notifies n once the caller
// presents password.
func NewSyncCompleteHandler(n SyncNotifier, password string, log ops.Logger) *SyncCompleteHandler {
	return &SyncCompleteHandler{notifier: n, password: password, log: log}
}

func (h *SyncCompleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Sync-Password")), []byte(h.password)) != 1 {
		h.log.WithFields(map[string]interface{}{"remote": r.RemoteAddr}).
			Warn("sync-complete: rejected, bad password")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	h.notifier.SyncComplete(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
