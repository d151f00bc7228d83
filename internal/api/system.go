package api

import (
	"net/http"
	"time"
)

// SystemInfoResponse describes the running bridge instance.
type SystemInfoResponse struct {
	Bridge        string `json:"bridge"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Cloud         struct {
		Connected  bool   `json:"connected"`
		Status     string `json:"status"`
		FramesRx   uint64 `json:"frames_rx"`
		FramesTx   uint64 `json:"frames_tx"`
		Reconnects uint64 `json:"reconnects"`
	} `json:"cloud"`
	UnitsManaged int `json:"units_managed"`
}

// handleSystemInfo returns bridge identity, uptime, and cloud connection
// metrics for dashboards.
func (s *Server) handleSystemInfo(w http.ResponseWriter, _ *http.Request) {
	metrics := s.bridge.GetMetrics()

	resp := SystemInfoResponse{
		Bridge:        s.bridgeID,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		UnitsManaged:  metrics.UnitsManaged,
	}
	resp.Cloud.Connected = metrics.Connected
	resp.Cloud.Status = metrics.Status
	resp.Cloud.FramesRx = metrics.FramesRx
	resp.Cloud.FramesTx = metrics.FramesTx
	resp.Cloud.Reconnects = metrics.Reconnects

	writeJSON(w, http.StatusOK, resp)
}
