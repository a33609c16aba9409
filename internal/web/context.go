package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/tabload/internal/core"
)

// withRequester records who asked for a load. RemoteAddr has already been
// rewritten by TrustedRealIP.
func withRequester(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithRequester(ctx, core.Requester{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
}
