package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on shutdown. It stays Background until
// SetBaseContext is called.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process context; nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req, so request-scoped values stay visible, and
// also cancels when base is done. The cancel func must be called.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
