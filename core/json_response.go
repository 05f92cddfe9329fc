package core

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Response renders itself to an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type jsonResponse struct {
	status int
	body   any
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	data, err := json.Marshal(j.body)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	_, err = w.Write(append(data, '\n'))
	return err
}

// JSON creates a 200 response with body encoded as JSON.
func JSON(body any) Response {
	return jsonResponse{status: http.StatusOK, body: body}
}

// JSONStatus creates a JSON response with an explicit status code.
func JSONStatus(status int, body any) Response {
	return jsonResponse{status: status, body: body}
}

// JSONError renders err as an ErrorBody. HTTPError anywhere in the chain
// sets the status and key; anything else becomes a 500 with a generic
// message so internal details do not leak.
func JSONError(err error) Response {
	var httpErr HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = ErrInternalServerError
	}

	msg := httpErr.Message
	if msg == "" {
		msg = http.StatusText(httpErr.Code)
	}

	return jsonResponse{
		status: httpErr.Code,
		body:   ErrorBody{Error: msg, Code: httpErr.Key},
	}
}

// Render writes resp. A body that fails to encode becomes a bare 500.
func Render(w http.ResponseWriter, r *http.Request, resp Response) {
	if err := resp.Render(w, r); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
