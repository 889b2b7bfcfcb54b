package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
)

// MaxBodyBytes bounds request bodies; attachments arrive base64 encoded
const MaxBodyBytes = 32 << 20

// Type aliases for cleaner syntax
type Req = Request
type Res = Response

// Request wraps the incoming HTTP request with path and query helpers
type Request struct {
	*http.Request
	Vars  map[string]string // URL path variables
	Query url.Values        // Query parameters
}

// NewRequest creates a new request wrapper. w is used to cap the body size.
func NewRequest(w http.ResponseWriter, r *http.Request) *Request {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	}
	return &Request{
		Request: r,
		Vars:    mux.Vars(r),
		Query:   r.URL.Query(),
	}
}

// JSON decodes the body into v, rejecting unknown fields and trailing data
func (req *Request) JSON(v interface{}) error {
	if req.Body == nil {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

// Param gets a URL path variable by name
func (req *Request) Param(name string) string {
	return req.Vars[name]
}

// QueryParam gets a query parameter by name
func (req *Request) QueryParam(name string) string {
	return req.Query.Get(name)
}

// QueryInt gets a query parameter as integer
func (req *Request) QueryInt(name string, defaultValue int) int {
	value := req.Query.Get(name)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}
