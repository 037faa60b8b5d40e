// Package api implements an HTTP-based API and server for cfsmime.
package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
)

// Handler is an interface providing a generic mechanism for handling HTTP requests.
type Handler interface {
	Handle(w http.ResponseWriter, r *http.Request) error
}

// HTTPHandler is a wrapper that encapsulates Handler interface as http.Handler.
// HTTPHandler also enforces that the Handler only responds to requests with registered HTTP methods.
type HTTPHandler struct {
	Handler          // cfsmime handler
	Methods []string // The associated HTTP methods
}

// HandlerFunc is similar to the http.HandlerFunc type; it serves as
// an adapter allowing the use of ordinary functions as Handlers. If
// f is a function with the appropriate signature, HandlerFunc(f) is a
// Handler object that calls f.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// Handle calls f(w, r)
func (f HandlerFunc) Handle(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// maxRequestSize bounds the JSON body of a request.
const maxRequestSize = 16 << 20

// handleError is the centralised error handling and reporting.
func handleError(w http.ResponseWriter, err error) (code int) {
	if err == nil {
		return http.StatusOK
	}
	msg := err.Error()
	code = errors.StatusCode(err)
	errorCode := code
	// cfsmime errors carry their own code.
	var cerr *errors.Error
	if stderrors.As(err, &cerr) {
		errorCode = cerr.ErrorCode
	}

	response := NewErrorResponse(msg, errorCode)
	jsonMessage, err := json.Marshal(response)
	if err != nil {
		log.Errorf("Failed to marshal JSON: %v", err)
	} else {
		msg = string(jsonMessage)
	}
	http.Error(w, msg, code)
	return code
}

// ServeHTTP encapsulates the call to underlying Handler to handle the request
// and return the response with proper HTTP status code
func (h HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	var match bool
	// Throw 405 when requested with an unsupported verb.
	for _, m := range h.Methods {
		if m == r.Method {
			match = true
		}
	}
	if match {
		err = h.Handle(w, r)
	} else {
		err = errors.NewMethodNotAllowed(r.Method)
	}
	status := handleError(w, err)
	log.Infof("%s - \"%s %s\" %d", r.RemoteAddr, r.Method, r.URL, status)
}

// ReadRequestBlob takes a JSON-blob-encoded request body in the form
// map[string]string and returns it.
func ReadRequestBlob(r *http.Request) (map[string]string, error) {
	var blob map[string]string

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		return nil, err
	}
	r.Body.Close()

	err = json.Unmarshal(body, &blob)
	if err != nil {
		return nil, errors.NewBadRequest(err)
	}
	return blob, nil
}

// ProcessRequestFields reads a JSON blob for the request and makes
// sure it contains every one of the required keywords.
func ProcessRequestFields(r *http.Request, required ...string) (map[string]string, error) {
	blob, err := ReadRequestBlob(r)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, keyword := range required {
		if blob[keyword] == "" {
			missing = append(missing, keyword)
		}
	}
	if len(missing) > 0 {
		return nil, missingParamsError(missing)
	}
	return blob, nil
}

func missingParamsError(missing []string) error {
	s := "Missing parameter"
	if len(missing) > 1 {
		s += "s"
	}
	s += " "
	s += strings.Join(missing, ", ")
	return errors.NewBadRequestString(s)
}

// DecodeBinary returns the bytes of a request parameter holding either
// a PEM block or base64 encoded DER.
func DecodeBinary(name, value string) ([]byte, error) {
	trimmed := bytes.TrimSpace([]byte(value))
	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		block, _ := pem.Decode(trimmed)
		if block == nil {
			return nil, errors.NewBadRequestString(`Malformed PEM in parameter "` + name + `"`)
		}
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, errors.NewBadRequestString(`Malformed base64 in parameter "` + name + `"`)
	}
	return der, nil
}

// ResponseMessage implements the standard for response errors and
// messages. A message has a code and a string message.
type ResponseMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response implements the CloudFlare standard for API
// responses.
type Response struct {
	Success  bool              `json:"success"`
	Result   interface{}       `json:"result"`
	Errors   []ResponseMessage `json:"errors"`
	Messages []ResponseMessage `json:"messages"`
}

// NewSuccessResponse is a shortcut for creating new successful API
// responses.
func NewSuccessResponse(result interface{}) Response {
	return Response{
		Success:  true,
		Result:   result,
		Errors:   []ResponseMessage{},
		Messages: []ResponseMessage{},
	}
}

// NewErrorResponse is a shortcut for creating an error response for a
// single error.
func NewErrorResponse(message string, code int) Response {
	return Response{
		Success:  false,
		Result:   nil,
		Errors:   []ResponseMessage{{code, message}},
		Messages: []ResponseMessage{},
	}
}

// SendResponse builds a response from the result, sets the JSON
// header, and writes to the http.ResponseWriter.
func SendResponse(w http.ResponseWriter, result interface{}) error {
	response := NewSuccessResponse(result)
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	err := enc.Encode(response)
	return err
}
