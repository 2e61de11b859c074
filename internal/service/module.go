package service

import "go.uber.org/fx"

// Module provides nothing of its own (Session is constructed per-connection
// by internal/handler/ws, not as a singleton) but groups the package under
// one fx.Module name for parity with the teacher's layering, and is a
// natural home for cross-connection policy this layer grows later.
var Module = fx.Module("service")
