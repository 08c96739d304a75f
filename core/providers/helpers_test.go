package providers

import (
	"context"
	"sync"
	"time"

	"accountd/core"
)

type recordingReporter struct {
	mu       sync.Mutex
	progress []string
	update   *core.Update
	failure  core.FailureKind
	reason   string
	reports  int
}

func (r *recordingReporter) Progress(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, status)
}

func (r *recordingReporter) Succeeded(u core.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports++
	r.update = &u
}

func (r *recordingReporter) Failed(kind core.FailureKind, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports++
	r.failure = kind
	r.reason = reason
}

func runFlow(flow core.Flow, account core.AccountData) *recordingReporter {
	return runFlowContext(context.Background(), flow, account)
}

func runFlowContext(ctx context.Context, flow core.Flow, account core.AccountData) *recordingReporter {
	r := &recordingReporter{}
	flow.Run(ctx, account, r)
	return r
}

// fastRetries shortens the backoff so retry tests stay quick.
func fastRetries(c *httpClient) {
	c.retryBase = time.Millisecond
}
