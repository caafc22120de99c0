package rest

// Hooks are observational callbacks around the request lifecycle. They never
// alter control flow; a nil hook is skipped.
type Hooks struct {
	// OnRequest fires once per logical request before the first attempt.
	OnRequest func(method, path string)
	// OnError fires for every classified error, including ones that are
	// subsequently retried.
	OnError func(err error)
	// OnResponse fires for every successfully parsed response envelope.
	OnResponse func(resp *Response)
}

func (h Hooks) request(method, path string) {
	if h.OnRequest != nil {
		h.OnRequest(method, path)
	}
}

func (h Hooks) failure(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Hooks) success(resp *Response) {
	if h.OnResponse != nil {
		h.OnResponse(resp)
	}
}
