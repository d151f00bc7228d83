package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/larkov/casambi-bridge/internal/bridge"
	"github.com/larkov/casambi-bridge/internal/casambi"
)

// UnitResponse is one unit in inventory and state listings.
type UnitResponse struct {
	Network   string               `json:"network"`
	Unit      int                  `json:"unit"`
	Name      string               `json:"name"`
	Type      string               `json:"type,omitempty"`
	FixtureID int                  `json:"fixture_id,omitempty"`
	State     *bridge.StateMessage `json:"state,omitempty"`
}

// ControlResponse acknowledges an accepted control request.
type ControlResponse struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
}

// handleListUnits returns the discovered unit inventory with current states.
func (s *Server) handleListUnits(w http.ResponseWriter, _ *http.Request) {
	units := s.bridge.Units()
	states := s.bridge.States()

	out := make([]UnitResponse, 0, len(units))
	for _, u := range units {
		out = append(out, s.unitResponse(u, states))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Unit < out[j].Unit
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"units": out,
		"total": len(out),
	})
}

// handleGetUnit returns one unit with its current state.
func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseUnitAddr(w, r)
	if !ok {
		return
	}

	for _, u := range s.bridge.Units() {
		if u.Address == addr {
			resp := UnitResponse{
				Network:   u.Address.NetworkID,
				Unit:      u.Address.UnitID,
				Name:      u.Unit.Name,
				Type:      u.Unit.Type,
				FixtureID: u.Unit.FixtureID,
			}
			if state, ok := s.bridge.State(addr); ok {
				msg := bridge.NewStateMessage(addr, state)
				resp.State = &msg
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	writeNotFound(w, "unit "+addr.String()+" not found")
}

// handleControlUnit validates and forwards a control request to the bridge.
//
// The body carries the same control fields as bus commands:
//
//	{"on": true, "brightness": 40, "color_temp_mired": 370, "vertical": 80}
func (s *Server) handleControlUnit(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseUnitAddr(w, r)
	if !ok {
		return
	}

	var controls bridge.CommandControls
	if err := json.NewDecoder(r.Body).Decode(&controls); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	commandID, err := s.bridge.Control(r.Context(), addr, controls, "api")
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrUnknownUnit):
			writeNotFound(w, "unit "+addr.String()+" not found")
		case errors.Is(err, bridge.ErrInvalidControls):
			writeBadRequest(w, err.Error())
		default:
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, ControlResponse{
		CommandID: commandID,
		Status:    "accepted",
	})
}

// unitResponse builds the response shape for one unit, attaching the
// reconciled state when one is known.
func (s *Server) unitResponse(u casambi.AddressedUnit, states map[casambi.UnitAddress]casambi.UnitState) UnitResponse {
	resp := UnitResponse{
		Network:   u.Address.NetworkID,
		Unit:      u.Address.UnitID,
		Name:      u.Unit.Name,
		Type:      u.Unit.Type,
		FixtureID: u.Unit.FixtureID,
	}
	if state, ok := states[u.Address]; ok {
		msg := bridge.NewStateMessage(u.Address, state)
		resp.State = &msg
	}
	return resp
}

// parseUnitAddr extracts the unit address from the URL, writing a 400
// response on malformed unit IDs.
func parseUnitAddr(w http.ResponseWriter, r *http.Request) (casambi.UnitAddress, bool) {
	network := chi.URLParam(r, "network")
	unitID, err := strconv.Atoi(chi.URLParam(r, "unit"))
	if err != nil {
		writeBadRequest(w, "unit must be an integer")
		return casambi.UnitAddress{}, false
	}
	return casambi.UnitAddress{NetworkID: network, UnitID: unitID}, true
}
