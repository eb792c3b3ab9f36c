package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
)

// M2MTokenSource fetches client-credentials tokens for the ledger function
// calls, caching them in Redis until shortly before expiry. It satisfies
// ledger.TokenSource.
type M2MTokenSource struct {
	Config models.M2MConfig
	Cache  *RedisTokenCache
	HTTP   *http.Client
	Logger *logger.Logger
}

func NewM2MTokenSource(cfg models.M2MConfig, cache *RedisTokenCache, client *http.Client, log *logger.Logger) *M2MTokenSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &M2MTokenSource{Config: cfg, Cache: cache, HTTP: client, Logger: log}
}

// Token returns a valid M2M token, from cache when possible.
func (s *M2MTokenSource) Token(ctx context.Context) (string, error) {
	if s.Cache != nil {
		cached, err := s.Cache.GetToken(ctx)
		if err != nil {
			s.Logger.Warn("AUTH", fmt.Sprintf("Token cache read failed, fetching fresh token: %v", err))
		} else if cached != nil {
			return cached.Token, nil
		}
	}

	tokenResp, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	if s.Cache != nil {
		if err := s.Cache.SetToken(ctx, tokenResp.AccessToken, tokenResp.ExpiresIn); err != nil {
			s.Logger.Warn("AUTH", fmt.Sprintf("Failed to cache M2M token: %v", err))
		}
	}

	return tokenResp.AccessToken, nil
}

func (s *M2MTokenSource) fetch(ctx context.Context) (*models.M2MTokenResponse, error) {
	s.Logger.Info("AUTH", fmt.Sprintf("Requesting M2M token from: %s", s.Config.TokenURL))

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", s.Config.ClientID)
	data.Set("client_secret", s.Config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		s.Logger.Error("AUTH", fmt.Sprintf("M2M token request failed: %v", err))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		s.Logger.Error("AUTH", fmt.Sprintf("M2M token response %s: %s", resp.Status, string(bodyBytes)))
		return nil, fmt.Errorf("failed to get token, status: %s", resp.Status)
	}

	var tokenResp models.M2MTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}

	return &tokenResp, nil
}
