// Package core holds the HTTP response and error primitives shared by the
// service's modules.
//
// Handlers return a Response and let Render write it:
//
//	core.Render(w, r, core.JSON(usage))
//
// Errors are mapped to status codes through HTTPError:
//
//	core.Render(w, r, core.JSONError(core.ErrBadRequest.WithMessage("userId is required")))
//
// Every error body has the form {"error": "<message>", "code": "<key>"}.
// Errors that are not HTTPError render as 500 with the generic status text.
package core
