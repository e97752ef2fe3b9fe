package retry

import (
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

// Transport retries requests on the responses and errors selected by
// RetryOn, sleeping as RetryStrategy dictates. Requests with a body are only
// retried when the body can be rewound through Request.GetBody.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	for retryCount := uint(0); ; retryCount++ {
		sleep, exceeded := t.retryStrategy().Sleep(retryCount)

		response, err := t.base().RoundTrip(request)
		retriable := !exceeded && t.RetryOn != nil && rewindable(request)
		if err != nil {
			if !retriable || !t.RetryOn.CheckError(err) {
				return nil, err
			}
		} else if !retriable || !t.RetryOn.CheckResponse(response) {
			return response, nil
		} else {
			_, _ = io.Copy(io.Discard, response.Body)
			response.Body.Close()
		}

		timer := time.NewTimer(sleep)
		select {
		case <-request.Context().Done():
			timer.Stop()
			return nil, request.Context().Err()
		case <-timer.C:
		}

		if request.GetBody != nil {
			body, err := request.GetBody()
			if err != nil {
				return nil, xerrors.Errorf("failed to rewind request body: %w", err)
			}
			request = request.Clone(request.Context())
			request.Body = body
		}
	}
}

func rewindable(request *http.Request) bool {
	return request.Body == nil || request.Body == http.NoBody || request.GetBody != nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
