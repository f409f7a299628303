// Package router turns incoming chat updates into command handler calls.
//
// Commands are single words ("/event 3") with optional aliases. Dispatch
// runs on a bounded worker pool under a supervisor, and every handler is
// wrapped in the panic, request-log and timeout middleware.
package router
