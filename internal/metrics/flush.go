package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Sink describes where Flush delivers the registry. Empty fields are skipped.
type Sink struct {
	Textfile       string
	PushgatewayURL string
	Job            string
}

// Flush writes g to the configured textfile and pushes it to the gateway.
// Both are attempted; their errors are joined.
func Flush(g prometheus.Gatherer, sink Sink) error {
	var errs []error
	if sink.Textfile != "" {
		if dir := filepath.Dir(sink.Textfile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errs = append(errs, fmt.Errorf("metrics textfile dir: %w", err))
			}
		}
		if err := prometheus.WriteToTextfile(sink.Textfile, g); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if sink.PushgatewayURL != "" {
		if err := push.New(sink.PushgatewayURL, sink.Job).Gatherer(g).Push(); err != nil {
			errs = append(errs, fmt.Errorf("push metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
