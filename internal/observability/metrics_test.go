package observability

import (
	"testing"
	"time"

	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordDatagram("HEARTBEAT")
	RecordDrop("unknown_kind")
	SetActiveDevices(3)
	RecordRegistration("ok")
	RecordSession("complete", 120*time.Millisecond)
	RecordForwardedReply(true)
	RecordForwardedReply(false)
	RecordHTTPRequest("relay-a", "GET", "/health", 200, 12*time.Millisecond)

	log.Debug().Msg("observability/metrics: registration idempotent and recording paths executed")
}
