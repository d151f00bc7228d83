package casambi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginNetworkMode(t *testing.T) {
	var gotKey, gotPath string
	var gotBody loginRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/networks/session", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Casambi-Key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"net-2": map[string]any{"id": "net-2", "name": "Garage", "sessionId": "tok-2"},
			"net-1": map[string]any{"id": "net-1", "name": "House", "sessionId": "tok-1"},
		})
	})
	client := newTestRESTClient(t, mux)

	sessions, err := client.Login(context.Background(), Credentials{
		Mode:       "network",
		Identifier: "bridge@example.com",
		Secret:     "secret",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if gotKey != "test-api-key" {
		t.Errorf("api key header = %q, want test-api-key", gotKey)
	}
	if gotPath != "/networks/session" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Email != "bridge@example.com" || gotBody.Password != "secret" {
		t.Errorf("login body = %+v", gotBody)
	}

	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	// Deterministic order regardless of map iteration.
	if sessions[0].NetworkID != "net-1" || sessions[1].NetworkID != "net-2" {
		t.Errorf("session order = %q, %q", sessions[0].NetworkID, sessions[1].NetworkID)
	}
	// Network mode: a distinct token per network.
	if sessions[0].Token != "tok-1" || sessions[1].Token != "tok-2" {
		t.Errorf("tokens = %q, %q", sessions[0].Token, sessions[1].Token)
	}
}

func TestLoginUserModeFlattensSites(t *testing.T) {
	client := newTestRESTClient(t, userLoginHandler(t))

	sessions, err := client.Login(context.Background(), Credentials{
		Mode:       "user",
		Identifier: "user@example.com",
		Secret:     "secret",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for _, sess := range sessions {
		if sess.Token != "user-token" {
			t.Errorf("network %s token = %q, want shared user-token", sess.NetworkID, sess.Token)
		}
		if sess.SiteName == "" {
			t.Errorf("network %s missing site name", sess.NetworkID)
		}
	}
}

func TestLoginUnknownMode(t *testing.T) {
	client := newTestRESTClient(t, http.NewServeMux())
	_, err := client.Login(context.Background(), Credentials{Mode: "magic"})
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRESTErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthRejected},
		{"forbidden", http.StatusForbidden, ErrAuthRejected},
		{"server error", http.StatusInternalServerError, ErrRequestFailed},
		{"bad gateway", http.StatusBadGateway, ErrRequestFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/networks/session", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			client := newTestRESTClient(t, mux)

			_, err := client.Login(context.Background(), Credentials{Mode: "network", Identifier: "u", Secret: "p"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("status %d mapped to %v, want %v", tt.status, err, tt.wantErr)
			}
		})
	}
}

func TestRESTUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NewServeMux())
	url := server.URL
	server.Close()

	client, err := NewRESTClient(RESTClientOptions{BaseURL: url, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewRESTClient: %v", err)
	}
	_, err = client.Login(context.Background(), Credentials{Mode: "network", Identifier: "u", Secret: "p"})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed for unreachable server, got %v", err)
	}
}

func TestUnitStateFetch(t *testing.T) {
	var gotSession string
	mux := http.NewServeMux()
	mux.HandleFunc("/networks/net-1/units/7/state", func(w http.ResponseWriter, r *http.Request) {
		gotSession = r.Header.Get("X-Casambi-Session")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     7,
			"online": true,
			"controls": []map[string]any{
				{"type": "Dimmer", "value": 0.75},
				{"type": "CCT", "value": 3000.0, "min": 2700.0, "max": 4000.0},
			},
		})
	})
	client := newTestRESTClient(t, mux)

	session := NetworkSession{NetworkID: "net-1", Token: "tok-1"}
	state, err := client.UnitState(context.Background(), session, 7)
	if err != nil {
		t.Fatalf("UnitState: %v", err)
	}

	if gotSession != "tok-1" {
		t.Errorf("session header = %q, want tok-1", gotSession)
	}
	if state.NetworkID != "net-1" || state.UnitID != 7 || !state.Online {
		t.Errorf("state identity = %+v", state)
	}
	if got := state.Controls[ControlDimmer].Value; got != 0.75 {
		t.Errorf("dimmer = %v, want 0.75", got)
	}
	cct := state.Controls[ControlColorTemperature]
	if cct.Value != 3000 || cct.Min != 2700 || cct.Max != 4000 {
		t.Errorf("cct = %+v, want 3000 in 2700..4000", cct)
	}
}

func TestNetworkStateFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/networks/net-1/state", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"units": map[string]any{
				"1": map[string]any{"id": 1, "online": true, "controls": []map[string]any{{"type": "Dimmer", "value": 0.0}}},
				"2": map[string]any{"id": 2, "online": false, "controls": []map[string]any{{"type": "Dimmer", "value": 1.0}}},
			},
		})
	})
	client := newTestRESTClient(t, mux)

	states, err := client.NetworkState(context.Background(), NetworkSession{NetworkID: "net-1", Token: "tok"})
	if err != nil {
		t.Fatalf("NetworkState: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 unit states, got %d", len(states))
	}
	if states[1].Online != true || states[2].Online != false {
		t.Errorf("online flags = %v/%v, want true/false", states[1].Online, states[2].Online)
	}
	if states[2].NetworkID != "net-1" {
		t.Errorf("state network = %q, want net-1", states[2].NetworkID)
	}
}

func TestFixtureExtractsColourBounds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fixtures/42", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   42,
			"name": "Panel",
			"controls": []map[string]any{
				{"type": "OnOff"},
				{"type": "Dimmer", "min": 0.0, "max": 1.0},
				{"type": "CCT", "min": 2200.0, "max": 6500.0},
			},
		})
	})
	client := newTestRESTClient(t, mux)

	fixture, err := client.Fixture(context.Background(), NetworkSession{Token: "tok"}, 42)
	if err != nil {
		t.Fatalf("Fixture: %v", err)
	}
	if fixture.ID != 42 || fixture.Name != "Panel" {
		t.Errorf("fixture identity = %+v", fixture)
	}
	// Only the colour temperature control contributes kelvin bounds.
	if fixture.MinKelvin != 2200 || fixture.MaxKelvin != 6500 {
		t.Errorf("bounds = %v..%v, want 2200..6500", fixture.MinKelvin, fixture.MaxKelvin)
	}
}
