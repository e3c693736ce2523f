// Package sink fans persisted readings out to downstream systems. Every sink
// implements collector.Sink; publish failures are reported to the caller and
// never abort a collection tick.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/i474232898/weather-collector/internal/weather"
)

var ErrNotConnected = errors.New("sink not connected")

// payload encodes r as the JSON document published to message sinks.
func payload(r weather.Reading) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reading: %w", err)
	}
	return b, nil
}
