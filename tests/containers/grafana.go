package containers

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	grafanalgtm "github.com/testcontainers/testcontainers-go/modules/grafana-lgtm"
)

// CollectorImage is the Grafana LGTM image exported spans are sent to.
const CollectorImage = "grafana/otel-lgtm:0.6.0"

// Collector is a running OTLP collector with its OTLP/HTTP endpoint resolved.
type Collector struct {
	LGTM *grafanalgtm.GrafanaLGTMContainer
	// URL is the OTLP/HTTP base URL, e.g. http://localhost:32768.
	URL string
}

// Cleanup terminates the collector.
func (c Collector) Cleanup(t testing.TB) {
	if c.LGTM != nil {
		testcontainers.CleanupContainer(t, c.LGTM)
	}
}

// OTLPCollector starts an LGTM container and sets OTEL_URL to its OTLP/HTTP receiver for the
// rest of the test.
func OTLPCollector(t *testing.T, ctx context.Context) (collector Collector, fault error) {
	t.Helper()

	lgtm, err := grafanalgtm.Run(ctx, CollectorImage,
		grafanalgtm.WithAdminCredentials("admin", "admin"),
		testcontainers.WithName("autoprobe-test-collector"),
		testcontainers.WithReuseByName("autoprobe-test-collector"),
	)
	if err != nil {
		return Collector{}, fmt.Errorf("could not start collector: %w", err)
	}

	collector = Collector{LGTM: lgtm}

	host, err := lgtm.Host(ctx)
	if err != nil {
		collector.Cleanup(t)
		return Collector{}, fmt.Errorf("could not get collector host: %w", err)
	}

	port, err := lgtm.MappedPort(ctx, "4318/tcp")
	if err != nil {
		collector.Cleanup(t)
		return Collector{}, fmt.Errorf("could not get OTLP/HTTP port: %w", err)
	}

	collector.URL = fmt.Sprintf("http://%s:%s", host, port.Port())
	t.Setenv("OTEL_URL", collector.URL)
	t.Logf("collector receiving OTLP at %s", collector.URL)

	return collector, nil
}
