package httpclient

import (
	"encoding/json"
	"net/http"

	"github.com/jrepp/sdkruntime/pkg/apierrors"
)

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache is set when the response was served without a network call.
	FromCache bool

	op string
}

// Decode unmarshals the JSON body into out. An empty body leaves out
// untouched.
func (r *Response) Decode(out interface{}) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &apierrors.DecodeError{Op: r.op, Err: err}
	}
	return nil
}

func (r *Response) clone() *Response {
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
		FromCache:  r.FromCache,
		op:         r.op,
	}
}
