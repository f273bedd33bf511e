// services/auth_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"design-battle-system/utils"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AuthServiceClient validates end-user access tokens against the auth service.
type AuthServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type ValidateResponse struct {
	UserID   string   `json:"user_id"`
	DeviceID string   `json:"device_id"`
	Roles    []string `json:"roles"`
}

// errInvalidToken is returned for any non-200 answer from /auth/validate.
var errInvalidToken = errors.New("auth validation failed")

func NewAuthServiceClient(baseURL, token string) *AuthServiceClient {
	return &AuthServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.NewHTTPClient(10 * time.Second),
	}
}

// ValidateToken calls /auth/validate on the auth service.
func (c *AuthServiceClient) ValidateToken(ctx context.Context, accessToken, deviceID string) (*ValidateResponse, error) {
	url := fmt.Sprintf("%s/auth/validate", c.BaseURL)

	jsonData, err := json.Marshal(map[string]any{
		"access_token": accessToken,
		"device_id":    deviceID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "auth service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"component": "auth_client",
			"status":    resp.StatusCode,
		}).Warn("token rejected by auth service")
		return nil, errors.Wrapf(errInvalidToken, "status %d", resp.StatusCode)
	}

	var out ValidateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "decode validate response")
	}
	if out.UserID == "" {
		return nil, errors.Wrap(errInvalidToken, "empty user id")
	}
	return &out, nil
}

// IsInvalidToken distinguishes a rejected token from an unreachable service.
func IsInvalidToken(err error) bool {
	return errors.Is(err, errInvalidToken)
}
