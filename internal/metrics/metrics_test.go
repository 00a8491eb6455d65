package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	scrapePagesTotal = nil
	scrapeNegativeCacheHits = nil
	scrapeEscalationsTotal = nil
	scrapeFetchDurationSeconds = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if scrapePagesTotal == nil || scrapeNegativeCacheHits == nil ||
		scrapeEscalationsTotal == nil || scrapeFetchDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	// A simple check to see if a metric can be used.
	ObservePage("success")
	if val := testutil.ToFloat64(scrapePagesTotal.WithLabelValues("success")); val != 1 {
		t.Errorf("Expected scrapePagesTotal to be 1, got %f", val)
	}

	ObserveEscalation("replaced")
	if val := testutil.ToFloat64(scrapeEscalationsTotal.WithLabelValues("replaced")); val != 1 {
		t.Errorf("Expected scrapeEscalationsTotal to be 1, got %f", val)
	}
}
