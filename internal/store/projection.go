package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type profileProjection struct {
	ID        string  `json:"id"`
	Username  *string `json:"username"`
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
	Bio       *string `json:"bio"`
}

// DecodeProfileProjection normalizes a joined profile projection. Depending
// on the join cardinality the projection arrives as a single object, a
// one-element array, or null; the result is zero or one Profile. Null and
// empty projections yield nil rather than a placeholder.
func DecodeProfileProjection(raw []byte) (*Profile, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("profile projection array: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return DecodeProfileProjection(list[0])
	}

	var proj profileProjection
	if err := json.Unmarshal(trimmed, &proj); err != nil {
		return nil, fmt.Errorf("profile projection object: %w", err)
	}
	if proj.ID == "" {
		return nil, nil
	}

	profile := Profile{ID: proj.ID}
	if proj.Username != nil {
		profile.Username = *proj.Username
	}
	if proj.FullName != nil {
		profile.FullName = *proj.FullName
	}
	if proj.AvatarURL != nil {
		profile.AvatarURL = *proj.AvatarURL
	}
	if proj.Bio != nil {
		profile.Bio = *proj.Bio
	}
	return &profile, nil
}
