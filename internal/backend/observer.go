package backend

import (
	"time"

	"github.com/google/uuid"
)

// observed is embedded by backends that report calls to an Observer.
type observed struct {
	observer Observer
}

// SetObserver attaches a receiver for request/response events.
func (o *observed) SetObserver(obs Observer) {
	o.observer = obs
}

// begin emits llm_request for req and returns the request id together with
// the func that emits the matching llm_response.
func (o *observed) begin(backend, model string, temperature float32, req Request) (string, func(Response, error)) {
	requestID := uuid.New().String()
	startTime := time.Now()

	o.observe("llm_request", map[string]interface{}{
		"request_id":  requestID,
		"backend":     backend,
		"model":       model,
		"segments":    req.Segments,
		"prompt":      truncateText(req.Text, 1000),
		"temperature": temperature,
		"timestamp":   startTime,
	})

	return requestID, func(out Response, err error) {
		event := map[string]interface{}{
			"request_id":  requestID,
			"backend":     backend,
			"response":    truncateText(out.Text, 1000),
			"tokens_used": out.TotalTokens,
			"duration":    time.Since(startTime).String(),
			"success":     err == nil,
			"timestamp":   time.Now(),
		}
		if err != nil {
			event["error"] = err.Error()
		}
		o.observe("llm_response", event)
	}
}

func (o *observed) observe(msgType string, data map[string]interface{}) {
	if o.observer != nil {
		o.observer.BroadcastMessage(msgType, data)
	}
}
