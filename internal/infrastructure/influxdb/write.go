package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/larkov/casambi-bridge/internal/casambi"
)

// WriteUnitState records a reconciled unit state snapshot.
//
// This is the primary method for recording lighting telemetry. Each
// state becomes one point in the "unit_state" measurement, tagged by
// network and unit for efficient per-fixture queries. Control values
// are converted to the external representation (brightness 0-100,
// colour temperature in mireds) so dashboards match what the MQTT
// bus publishes.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteUnitState(state casambi.UnitState) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"online": state.Online,
	}
	if dimmer, ok := state.Controls[casambi.ControlDimmer]; ok {
		fields["brightness"] = casambi.LevelToBrightness(dimmer.Value)
		fields["on"] = dimmer.Value > 0
	}
	if cct, ok := state.Controls[casambi.ControlColorTemperature]; ok && cct.Value > 0 {
		fields["color_temp_mired"] = casambi.KelvinToMired(cct.Value)
		fields["color_temp_kelvin"] = cct.Value
	}
	if vertical, ok := state.Controls[casambi.ControlVertical]; ok {
		fields["vertical"] = vertical.Value * 100
	}

	point := write.NewPoint(
		"unit_state",
		map[string]string{
			"network": state.NetworkID,
			"unit":    strconv.Itoa(state.UnitID),
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionStats records a cloud connection health sample.
//
// Frame counters are cumulative since process start; reconnects and
// timeouts likewise. Sampled alongside the periodic health report so
// connection stability can be graphed over time.
func (c *Client) WriteConnectionStats(stats casambi.ConnectionStats) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"connection",
		map[string]string{
			"state": stats.State.String(),
		},
		map[string]interface{}{
			"frames_rx":      stats.FramesRx,
			"frames_tx":      stats.FramesTx,
			"frames_dropped": stats.FramesDropped,
			"reconnects":     stats.Reconnects,
			"timeouts":       stats.Timeouts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
