package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SettingsDomain names one of the server's settings sections. Each domain is
// read and written as an independent document.
type SettingsDomain string

const (
	SettingsAudio         SettingsDomain = "audio"
	SettingsSecurity      SettingsDomain = "security"
	SettingsIntegrations  SettingsDomain = "integrations"
	SettingsNotifications SettingsDomain = "notifications"
	SettingsSpecies       SettingsDomain = "species"
	SettingsSupport       SettingsDomain = "support"
)

// IsValid reports whether d is a recognised settings domain.
func (d SettingsDomain) IsValid() bool {
	switch d {
	case SettingsAudio, SettingsSecurity, SettingsIntegrations,
		SettingsNotifications, SettingsSpecies, SettingsSupport:
		return true
	}
	return false
}

// GetSettings fetches the domain's settings document into out (a pointer to
// the domain's typed struct, or *json.RawMessage to keep it opaque).
func (c *Client) GetSettings(ctx context.Context, d SettingsDomain, out any) error {
	if !d.IsValid() {
		return fmt.Errorf("api: settings domain %q is invalid", d)
	}
	return c.do(ctx, http.MethodGet, "/settings/"+string(d), nil, nil, out)
}

// PatchSettings writes the domain's settings document. payload is marshalled
// as the request body; the server merges it into the stored settings.
func (c *Client) PatchSettings(ctx context.Context, d SettingsDomain, payload any) error {
	if !d.IsValid() {
		return fmt.Errorf("api: settings domain %q is invalid", d)
	}
	return c.do(ctx, http.MethodPatch, "/settings/"+string(d), nil, payload, nil)
}

// RawSettings fetches the domain's settings without decoding them.
func (c *Client) RawSettings(ctx context.Context, d SettingsDomain) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.GetSettings(ctx, d, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
