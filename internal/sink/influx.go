package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/i474232898/weather-collector/internal/weather"
)

const (
	influxMeasurement    = "weather"
	influxConnectTimeout = 10 * time.Second
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes each reading as one point of the "weather" measurement,
// tagged by collector and location.
type Influx struct {
	client influxdb2.Client
	writer pointWriter
}

func ConnectInflux(url, token, org, bucket string) (*Influx, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), influxConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: server not healthy")
	}

	return &Influx{client: client, writer: client.WriteAPIBlocking(org, bucket)}, nil
}

func (i *Influx) Name() string { return "influxdb" }

func (i *Influx) Publish(ctx context.Context, r weather.Reading) error {
	p := point(r)
	if p == nil {
		return nil
	}
	if err := i.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	return nil
}

func (i *Influx) Close() error {
	if i.client != nil {
		i.client.Close()
	}
	return nil
}

// point converts r to a line-protocol point. It returns nil when r carries
// no numeric field, since a point needs at least one.
func point(r weather.Reading) *write.Point {
	fields := map[string]interface{}{}
	add := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	add(weather.AttrTemperature, r.Temperature)
	add(weather.AttrHumidity, r.Humidity)
	add(weather.AttrPressure, r.Pressure)
	add(weather.AttrWindSpeed, r.WindSpeed)
	add(weather.AttrWindDirection, r.WindDirection)
	if r.Coordinates != nil {
		fields["lat"] = r.Coordinates.Lat
		fields["lon"] = r.Coordinates.Lon
	}
	if len(fields) == 0 {
		return nil
	}

	tags := map[string]string{"location": r.Location}
	if r.CollectorID != "" {
		tags["collector_id"] = r.CollectorID
	}
	if r.Condition != "" {
		tags[weather.AttrCondition] = r.Condition
	}

	return write.NewPoint(influxMeasurement, tags, fields, r.Timestamp)
}
