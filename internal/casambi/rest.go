package casambi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// REST request headers.
const (
	headerAPIKey  = "X-Casambi-Key"
	headerSession = "X-Casambi-Session"
)

// defaultHTTPTimeout bounds individual REST calls.
const defaultHTTPTimeout = 30 * time.Second

// maxErrorBody limits how much of an error response is read for diagnostics.
const maxErrorBody = 512

// RESTClient performs the plain authenticated request/response calls:
// login, unit and fixture catalogues, state snapshots. It carries no
// protocol state.
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     Logger
}

// RESTClientOptions configures a RESTClient.
type RESTClientOptions struct {
	// BaseURL is the REST endpoint root, without trailing slash.
	BaseURL string

	// APIKey authenticates the application itself.
	APIKey string

	// HTTPClient is optional; a default with a 30s timeout is used
	// when nil.
	HTTPClient *http.Client

	// Logger is optional structured logging.
	Logger Logger
}

// NewRESTClient creates a RESTClient.
func NewRESTClient(opts RESTClientOptions) (*RESTClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &RESTClient{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}, nil
}

// loginRequest is the body of both login flavours.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// networkLoginInfo is one entry of the network-login response, which
// is keyed by network ID.
type networkLoginInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// userLoginResponse is the user/site-login response: one session token
// authorising every network of every accessible site.
type userLoginResponse struct {
	SessionID string `json:"sessionId"`
	Sites     map[string]struct {
		Name     string `json:"name"`
		Networks map[string]struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"networks"`
	} `json:"sites"`
}

// Login authenticates the credentials and returns one NetworkSession
// per accessible network.
//
// A credential rejection fails permanently with ErrAuthRejected:
// callers must not retry it. Any other failure wraps ErrRequestFailed
// and is retried by the caller after a cooldown.
func (c *RESTClient) Login(ctx context.Context, creds Credentials) ([]NetworkSession, error) {
	switch creds.Mode {
	case "network":
		return c.loginNetwork(ctx, creds)
	case "user":
		return c.loginUser(ctx, creds)
	default:
		return nil, fmt.Errorf("unknown credentials mode %q", creds.Mode)
	}
}

// loginNetwork performs a network-mode login. The response is keyed by
// network ID; each entry carries its own session token.
func (c *RESTClient) loginNetwork(ctx context.Context, creds Credentials) ([]NetworkSession, error) {
	var resp map[string]networkLoginInfo
	err := c.do(ctx, http.MethodPost, "/networks/session", "",
		loginRequest{Email: creds.Identifier, Password: creds.Secret}, &resp)
	if err != nil {
		return nil, err
	}

	sessions := make([]NetworkSession, 0, len(resp))
	for networkID, info := range resp {
		id := info.ID
		if id == "" {
			id = networkID
		}
		sessions = append(sessions, NetworkSession{
			NetworkID:   id,
			NetworkName: info.Name,
			Token:       info.SessionID,
		})
	}
	sortSessions(sessions)
	return sessions, nil
}

// loginUser performs a user/site-mode login and flattens the
// site/network hierarchy into one session per network, all sharing the
// user session token.
func (c *RESTClient) loginUser(ctx context.Context, creds Credentials) ([]NetworkSession, error) {
	var resp userLoginResponse
	err := c.do(ctx, http.MethodPost, "/users/session", "",
		loginRequest{Email: creds.Identifier, Password: creds.Secret}, &resp)
	if err != nil {
		return nil, err
	}

	var sessions []NetworkSession
	for _, site := range resp.Sites {
		for networkID, network := range site.Networks {
			id := network.ID
			if id == "" {
				id = networkID
			}
			sessions = append(sessions, NetworkSession{
				NetworkID:   id,
				NetworkName: network.Name,
				SiteName:    site.Name,
				Token:       resp.SessionID,
			})
		}
	}
	sortSessions(sessions)
	return sessions, nil
}

// Units fetches the unit list of a network.
func (c *RESTClient) Units(ctx context.Context, session NetworkSession) ([]Unit, error) {
	var units []Unit
	path := fmt.Sprintf("/networks/%s/units", session.NetworkID)
	if err := c.do(ctx, http.MethodGet, path, session.Token, nil, &units); err != nil {
		return nil, err
	}
	return units, nil
}

// restUnitState is the REST shape of one unit's state.
type restUnitState struct {
	ID       int             `json:"id"`
	Online   *bool           `json:"online,omitempty"`
	Controls []ControlReport `json:"controls"`
}

// UnitState fetches one unit's current state snapshot.
func (c *RESTClient) UnitState(ctx context.Context, session NetworkSession, unitID int) (UnitState, error) {
	var resp restUnitState
	path := fmt.Sprintf("/networks/%s/units/%d/state", session.NetworkID, unitID)
	if err := c.do(ctx, http.MethodGet, path, session.Token, nil, &resp); err != nil {
		return UnitState{}, err
	}
	return unitStateFromREST(session.NetworkID, resp), nil
}

// NetworkState fetches the full state snapshot of a network, keyed by
// unit ID.
func (c *RESTClient) NetworkState(ctx context.Context, session NetworkSession) (map[int]UnitState, error) {
	var resp struct {
		Units map[string]restUnitState `json:"units"`
	}
	path := fmt.Sprintf("/networks/%s/state", session.NetworkID)
	if err := c.do(ctx, http.MethodGet, path, session.Token, nil, &resp); err != nil {
		return nil, err
	}

	states := make(map[int]UnitState, len(resp.Units))
	for _, u := range resp.Units {
		states[u.ID] = unitStateFromREST(session.NetworkID, u)
	}
	return states, nil
}

// Fixture fetches a fixture's capability metadata, including the
// colour temperature bounds the hardware accepts.
func (c *RESTClient) Fixture(ctx context.Context, session NetworkSession, fixtureID int) (Fixture, error) {
	var resp struct {
		ID       int    `json:"id"`
		Name     string `json:"name"`
		Controls []struct {
			Type string   `json:"type"`
			Min  *float64 `json:"min,omitempty"`
			Max  *float64 `json:"max,omitempty"`
		} `json:"controls"`
	}
	path := fmt.Sprintf("/fixtures/%d", fixtureID)
	if err := c.do(ctx, http.MethodGet, path, session.Token, nil, &resp); err != nil {
		return Fixture{}, err
	}

	fixture := Fixture{ID: resp.ID, Name: resp.Name}
	for _, control := range resp.Controls {
		if control.Type != ControlColorTemperature {
			continue
		}
		if control.Min != nil {
			fixture.MinKelvin = *control.Min
		}
		if control.Max != nil {
			fixture.MaxKelvin = *control.Max
		}
	}
	return fixture, nil
}

// do performs one REST call. Requests carry the API key header and,
// when token is non-empty, the session header.
func (c *RESTClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(headerSession, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: status %d", ErrAuthRejected, method, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrRequestFailed, method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrRequestFailed, err)
	}
	return nil
}

// unitStateFromREST converts a REST state payload to a UnitState.
func unitStateFromREST(networkID string, u restUnitState) UnitState {
	state := UnitState{
		NetworkID: networkID,
		UnitID:    u.ID,
		Online:    u.Online == nil || *u.Online,
		Controls:  make(map[string]ControlState, len(u.Controls)),
	}
	for _, c := range u.Controls {
		cs := ControlState{Value: c.Value}
		if c.Min != nil {
			cs.Min = *c.Min
		}
		if c.Max != nil {
			cs.Max = *c.Max
		}
		state.Controls[c.Type] = cs
	}
	return state
}

// sortSessions orders sessions by network ID so fan-out is
// deterministic regardless of map iteration order.
func sortSessions(sessions []NetworkSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].NetworkID < sessions[j].NetworkID
	})
}
