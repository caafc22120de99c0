package rest

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"arclink/pkg/exception"
)

// Meta is the metadata half of a success envelope.
type Meta struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Response is the parsed outcome of a successful request.
type Response struct {
	StatusCode int
	Header     http.Header
	// Data is the payload: the envelope's data field for JSON bodies, the
	// raw body otherwise.
	Data json.RawMessage
	// Meta is present when the body carried a success envelope.
	Meta *Meta
	// Body is the unparsed body.
	Body []byte
}

type successEnvelope struct {
	Data json.RawMessage `json:"data"`
	Meta *Meta           `json:"meta"`
}

type errorEnvelope struct {
	Error       string              `json:"error"`
	Message     string              `json:"message"`
	Detail      string              `json:"detail,omitempty"`
	FieldErrors map[string][]string `json:"field_errors,omitempty"`
	StatusCode  int                 `json:"status_code,omitempty"`
}

func isJSON(header http.Header) bool {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(contentType, "application/json")
	}
	return mediaType == "application/json"
}

// parseSuccess parses the body by content type: JSON bodies unwrap the
// {data, meta} envelope, everything else passes through raw.
func parseSuccess(status int, header http.Header, body []byte) *Response {
	resp := &Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
		Data:       body,
	}
	if !isJSON(header) {
		return resp
	}

	var envelope successEnvelope
	if err := sonic.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		// Not every endpoint wraps its payload; hand back the document.
		return resp
	}
	resp.Data = envelope.Data
	resp.Meta = envelope.Meta
	return resp
}

// parseFailure turns a non-2xx body into an APIError, synthesizing the
// envelope from the HTTP status text when parsing fails.
func parseFailure(status int, body []byte) *exception.APIError {
	var envelope errorEnvelope
	if err := sonic.Unmarshal(body, &envelope); err != nil || envelope.Message == "" {
		return exception.SynthesizeAPIError(status)
	}

	apiErr := exception.NewAPIError(envelope.Message, status, envelope.Error)
	apiErr.Detail = envelope.Detail
	apiErr.FieldErrors = envelope.FieldErrors
	if envelope.StatusCode != 0 {
		apiErr.StatusCode = envelope.StatusCode
	}
	return apiErr
}

// Decode unmarshals the response payload into T.
func Decode[T any](resp *Response) (T, error) {
	var value T
	if resp == nil || len(resp.Data) == 0 {
		return value, exception.ErrInvalidArgument
	}
	if err := sonic.Unmarshal(resp.Data, &value); err != nil {
		return value, err
	}
	return value, nil
}
