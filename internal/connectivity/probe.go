package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/creelapp/creel/internal/logging"
)

// Watcher drives a Signal from periodic HTTP reachability probes.
//
// Two consecutive probe failures flip the signal offline; a single success
// flips it back online. A one-off failure (DNS hiccup, captive portal blink)
// therefore does not trigger a spurious offline transition.
type Watcher struct {
	signal   *Signal
	client   *http.Client
	url      string
	interval time.Duration
	failures int
}

const offlineAfterFailures = 2

// NewWatcher creates a probe watcher for the given signal.
func NewWatcher(signal *Signal, probeURL string, interval time.Duration) *Watcher {
	return &Watcher{
		signal: signal,
		client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		url:      probeURL,
		interval: interval,
	}
}

// Start launches the probe loop in a background goroutine. It returns
// immediately; the loop stops when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			w.probe(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (w *Watcher) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		logging.Warn("Connectivity probe misconfigured", map[string]interface{}{
			"url":   w.url,
			"error": err.Error(),
		})
		return
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.failures++
		logging.Debug("Connectivity probe failed", map[string]interface{}{
			"failures": w.failures,
		})
		if w.failures >= offlineAfterFailures {
			w.signal.Set(false)
		}
		return
	}
	resp.Body.Close()

	w.failures = 0
	w.signal.Set(true)
}
