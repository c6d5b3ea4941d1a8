package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cronflow/cronflow/internal/models"
)

// HTTPRunner executes an event's HTTP request definition. It always
// produces a structured response wrapper, even on transport error, so
// downstream conditional logic never sees an unhandled failure.
type HTTPRunner struct {
	client *http.Client
}

func NewHTTPRunner(timeout time.Duration) *HTTPRunner {
	return &HTTPRunner{
		client: &http.Client{Timeout: timeout},
	}
}

// httpResponse is the wrapper stored as the execution's output payload.
type httpResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Error   string            `json:"error,omitempty"`
}

func (r *HTTPRunner) Run(ctx context.Context, event *models.Event) *Result {
	res := &Result{}

	body, contentType, err := encodeBody(event)
	if err != nil {
		return wrap(res, httpResponse{Error: err.Error()}, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(event.HTTPMethod), event.HTTPURL, body)
	if err != nil {
		return wrap(res, httpResponse{Error: err.Error()}, fmt.Sprintf("invalid request: %s", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if len(event.HTTPHeaders) > 0 {
		var headers map[string]string
		if err := json.Unmarshal(event.HTTPHeaders, &headers); err != nil {
			res.Stderr += "\nwarning: http_headers is not a valid JSON object, headers skipped"
		} else {
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return wrap(res, httpResponse{Error: err.Error()}, fmt.Sprintf("request failed: %s", err))
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		res.Stderr += fmt.Sprintf("\nwarning: response body truncated: %s", readErr)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	wrapper := httpResponse{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    string(respBody),
	}

	var errMsg string
	if resp.StatusCode >= 400 {
		errMsg = fmt.Sprintf("request returned status %d", resp.StatusCode)
	}
	res.Stdout = wrapper.Body
	return wrap(res, wrapper, errMsg)
}

func wrap(res *Result, wrapper httpResponse, errMsg string) *Result {
	data, err := json.Marshal(wrapper)
	if err == nil {
		res.Output = data
	}
	res.Err = errMsg
	return res
}

// encodeBody builds the request body according to the event's content type:
// JSON by default, form-encoded, or multipart.
func encodeBody(event *models.Event) (io.Reader, string, error) {
	if event.HTTPBody == "" || methodWithoutBody(event.HTTPMethod) {
		return nil, "", nil
	}

	switch event.HTTPContentType {
	case "form":
		fields, err := bodyFields(event.HTTPBody)
		if err != nil {
			return nil, "", err
		}
		values := url.Values{}
		for k, v := range fields {
			values.Set(k, fmt.Sprint(v))
		}
		return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil

	case "multipart":
		fields, err := bodyFields(event.HTTPBody)
		if err != nil {
			return nil, "", err
		}
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range fields {
			if err := w.WriteField(k, fmt.Sprint(v)); err != nil {
				return nil, "", fmt.Errorf("encode multipart field %s: %w", k, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil

	default: // json
		return strings.NewReader(event.HTTPBody), "application/json", nil
	}
}

func bodyFields(body string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("http_body must be a JSON object for form/multipart encoding: %w", err)
	}
	return fields, nil
}

func methodWithoutBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}
