// Package backend talks to the rental platform's REST API, which is both the
// vehicle directory and the primary location sink of the simulator.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ukydev/fleet-location-simulator/internal/auth"
	"github.com/ukydev/fleet-location-simulator/internal/models"
)

// TokenSource yields the bearer token for the next request. An empty token
// sends the request unauthenticated.
type TokenSource func() (string, error)

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource {
	return func() (string, error) { return tok, nil }
}

// ServiceToken mints a short-lived service token per request.
func ServiceToken(svc *auth.Service, subject string) TokenSource {
	return func() (string, error) {
		tok, _, err := svc.GenerateToken(subject, models.RoleService)
		return tok, err
	}
}

// Client is a thin wrapper over the backend vehicle endpoints.
type Client struct {
	baseURL    string
	token      TokenSource
	httpClient *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:8081/api.
func New(baseURL string, token TokenSource) *Client {
	if token == nil {
		token = StaticToken("")
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type apiGeofence struct {
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
	Radius *float64 `json:"radius"`
}

type apiVehicle struct {
	ID               string           `json:"id"`
	MongoID          string           `json:"_id"`
	AssignedLocation *apiGeofence     `json:"assignedLocation"`
	Status           string           `json:"status"`
	CurrentLocation  *models.Location `json:"currentLocation"`
}

type locationUpdate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GetVehicleByID fetches the directory record for one vehicle.
func (c *Client) GetVehicleByID(ctx context.Context, vehicleID string) (*models.Vehicle, error) {
	resp, err := c.do(ctx, http.MethodGet, c.vehicleURL(vehicleID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("vehicle %s: %w", vehicleID, models.ErrVehicleNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch vehicle %s: unexpected status code: %d", vehicleID, resp.StatusCode)
	}

	var av apiVehicle
	if err := json.NewDecoder(resp.Body).Decode(&av); err != nil {
		return nil, fmt.Errorf("decoding vehicle %s: %w", vehicleID, err)
	}

	return av.toDomain(vehicleID), nil
}

// UpdateVehicleLocation pushes a new position for the vehicle.
func (c *Client) UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64) error {
	data, err := json.Marshal(locationUpdate{Lat: lat, Lng: lng})
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut, c.vehicleURL(vehicleID)+"/location", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("vehicle %s: %w", vehicleID, models.ErrVehicleNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("update location of %s: unexpected status code: %d", vehicleID, resp.StatusCode)
	}
	return nil
}

func (c *Client) vehicleURL(vehicleID string) string {
	return c.baseURL + "/vehicles/" + url.PathEscape(vehicleID)
}

func (c *Client) do(ctx context.Context, method, reqURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("obtaining auth token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

func (av *apiVehicle) toDomain(requestedID string) *models.Vehicle {
	v := &models.Vehicle{
		ID:              av.ID,
		Status:          av.Status,
		CurrentLocation: av.CurrentLocation,
	}
	if v.ID == "" {
		v.ID = av.MongoID
	}
	if v.ID == "" {
		v.ID = requestedID
	}

	// a partially filled geofence is as unusable as a missing one
	if g := av.AssignedLocation; g != nil && g.Lat != nil && g.Lng != nil && g.Radius != nil {
		v.AssignedLocation = &models.Geofence{Lat: *g.Lat, Lng: *g.Lng, Radius: *g.Radius}
	}
	return v
}
