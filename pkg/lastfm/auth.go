package lastfm

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// AuthService provides authentication operations for the Last.fm API.
type AuthService struct {
	client *Client
}

// AuthURL is the page where users authorize a request token.
const AuthURL = "https://www.last.fm/api/auth/"

// GetToken requests an authentication token from Last.fm.
//
// This is the first step in the authentication flow. After obtaining a token,
// the user must authorize it by visiting the URL returned by GetAuthURL.
//
// Example:
//
//	token, err := client.Auth().GetToken(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Visit:", client.Auth().GetAuthURL(token.Token))
func (a *AuthService) GetToken(ctx context.Context) (*Token, error) {
	resp, err := a.client.call(ctx, http.MethodGet, "auth.getToken", nil, false)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Token string `xml:"token"`
	}
	if err := xml.Unmarshal(wrapInner(resp), &parsed); err != nil {
		return nil, fmt.Errorf("lastfm: failed to parse token response: %w", err)
	}
	token := strings.TrimSpace(parsed.Token)
	if token == "" {
		return nil, fmt.Errorf("lastfm: empty token in response")
	}

	return &Token{Token: token}, nil
}

// GetAuthURL returns the URL where users authorize the token.
//
// After calling GetToken, direct the user to this URL to authorize
// the application. Once authorized, call GetSession to exchange the
// token for a session key.
func (a *AuthService) GetAuthURL(token string) string {
	q := url.Values{}
	q.Set("api_key", a.client.apiKey)
	q.Set("token", token)
	return AuthURL + "?" + q.Encode()
}

// GetSession exchanges an authorized token for a session key.
//
// After the user has authorized the token at the URL from GetAuthURL,
// call this method to exchange the token for a permanent session key.
// The session key should be stored and used for all future authenticated
// requests. An unauthorized token fails with error code 14.
//
// Example:
//
//	session, err := client.Auth().GetSession(ctx, token.Token)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client.SetSessionKey(session.Key)
func (a *AuthService) GetSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("lastfm: token is required")
	}

	resp, err := a.client.call(ctx, http.MethodGet, "auth.getSession", map[string]string{"token": token}, false)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Session struct {
			Name       string `xml:"name"`
			Key        string `xml:"key"`
			Subscriber int    `xml:"subscriber"`
		} `xml:"session"`
	}
	if err := xml.Unmarshal(wrapInner(resp), &parsed); err != nil {
		return nil, fmt.Errorf("lastfm: failed to parse session response: %w", err)
	}
	if parsed.Session.Key == "" {
		return nil, fmt.Errorf("lastfm: empty session key in response")
	}

	return &Session{
		Key:        strings.TrimSpace(parsed.Session.Key),
		Username:   strings.TrimSpace(parsed.Session.Name),
		Subscriber: parsed.Session.Subscriber == 1,
	}, nil
}
