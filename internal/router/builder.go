package router

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RouterBuilder provides a fluent API for building routes under one prefix
type RouterBuilder struct {
	subrouter *mux.Router
}

// HandlerFunc is the handler signature used by module controllers
type HandlerFunc func(req *Request, res *Response)

// Router creates a new router with the given prefix
func Router(mainRouter *mux.Router, prefix string) *RouterBuilder {
	subrouter := mainRouter.PathPrefix(prefix).Subrouter()
	subrouter.MethodNotAllowedHandler = MethodNotAllowedHandler()
	return &RouterBuilder{subrouter: subrouter}
}

// MethodNotAllowedHandler answers a path that exists under another method with the 405 envelope
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NewResponse(w).MethodNotAllowed("Method not allowed")
	})
}

// Use applies middleware to every route under this prefix
func (r *RouterBuilder) Use(mw ...mux.MiddlewareFunc) *RouterBuilder {
	r.subrouter.Use(mw...)
	return r
}

func (r *RouterBuilder) Get(path string, handler HandlerFunc) *RouterBuilder {
	return r.handle(http.MethodGet, path, handler)
}

func (r *RouterBuilder) Post(path string, handler HandlerFunc) *RouterBuilder {
	return r.handle(http.MethodPost, path, handler)
}

func (r *RouterBuilder) Put(path string, handler HandlerFunc) *RouterBuilder {
	return r.handle(http.MethodPut, path, handler)
}

func (r *RouterBuilder) Patch(path string, handler HandlerFunc) *RouterBuilder {
	return r.handle(http.MethodPatch, path, handler)
}

func (r *RouterBuilder) Delete(path string, handler HandlerFunc) *RouterBuilder {
	return r.handle(http.MethodDelete, path, handler)
}

func (r *RouterBuilder) handle(method, path string, handler HandlerFunc) *RouterBuilder {
	r.subrouter.HandleFunc(path, wrapHandler(handler)).Methods(method)
	return r
}

// wrapHandler converts HandlerFunc to http.HandlerFunc
func wrapHandler(handler HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, httpReq *http.Request) {
		handler(NewRequest(w, httpReq), NewResponse(w))
	}
}
