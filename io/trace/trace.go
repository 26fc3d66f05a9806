package trace

import (
	zipkin "github.com/openzipkin/zipkin-go"
	"github.com/openzipkin/zipkin-go/reporter"
	httpreporter "github.com/openzipkin/zipkin-go/reporter/http"
	"github.com/pkg/errors"
)

// DefaultCollector is the span endpoint of a local zipkin.
const DefaultCollector = "http://localhost:9411/api/v2/spans"

// Tracer creates a tracer reporting to collectorURL. The returned reporter must
// be closed to flush pending spans.
func Tracer(serviceName, hostPort, collectorURL string) (*zipkin.Tracer, reporter.Reporter, error) {
	if collectorURL == "" {
		collectorURL = DefaultCollector
	}
	rep := httpreporter.NewReporter(collectorURL)
	// create our local service endpoint
	endpoint, err := zipkin.NewEndpoint(serviceName, hostPort)
	if err != nil {
		rep.Close()
		return nil, nil, errors.Wrap(err, "unable to create local endpoint")
	}
	// initialize our tracer
	tracer, err := zipkin.NewTracer(rep, zipkin.WithLocalEndpoint(endpoint))
	if err != nil {
		rep.Close()
		return nil, nil, errors.Wrap(err, "unable to create tracer")
	}

	return tracer, rep, nil
}
