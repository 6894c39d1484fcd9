package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/utils"
	"golang.org/x/oauth2"
)

// Single sign-on against the deployment's Authentik instance. Authentik
// publishes a standard OIDC discovery document per application at
// <base>/application/o/<slug>/.

type oidcProviderConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

func getEnvAny(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func loadOIDCConfig() (*oidcProviderConfig, error) {
	issuer := getEnvAny("OPSDECK_OIDC_ISSUER", "OIDC_ISSUER")
	if issuer == "" {
		// Derive from the Authentik base URL and application slug
		base := strings.TrimRight(getEnvAny("OPSDECK_AUTHENTIK_URL"), "/")
		slug := getEnvAny("OPSDECK_AUTHENTIK_APP_SLUG")
		if slug == "" {
			slug = "opsdeck"
		}
		if base != "" {
			issuer = fmt.Sprintf("%s/application/o/%s/", base, slug)
		}
	}
	clientID := getEnvAny("OPSDECK_OIDC_CLIENT_ID", "OIDC_CLIENT_ID")
	clientSecret := getEnvAny("OPSDECK_OIDC_CLIENT_SECRET", "OIDC_CLIENT_SECRET")
	redirectURL := getEnvAny("OPSDECK_OIDC_REDIRECT_URL", "OIDC_REDIRECT_URL")
	if redirectURL == "" {
		if api := strings.TrimRight(getEnvAny("OPSDECK_API_BASE_URL", "PUBLIC_API_BASE", "API_BASE"), "/"); api != "" {
			redirectURL = api + "/sso/authentik/callback"
		}
	}
	if issuer == "" || clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, fmt.Errorf("missing OIDC configuration for Authentik SSO")
	}
	scopes := []string{"openid", "email", "profile"}
	if extra := strings.TrimSpace(os.Getenv("OPSDECK_OIDC_EXTRA_SCOPES")); extra != "" {
		scopes = append(scopes, strings.Split(extra, ",")...)
	}
	return &oidcProviderConfig{Issuer: issuer, ClientID: clientID, ClientSecret: clientSecret, RedirectURL: redirectURL, Scopes: scopes}, nil
}

func signState(claims jwtlib.MapClaims) (string, error) {
	sec, err := utils.GetJwtSecretString()
	if err != nil || strings.TrimSpace(sec) == "" {
		return "", errors.New("JWT_SECRET not set")
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(sec))
}

func verifyState(state string) (jwtlib.MapClaims, error) {
	sec, err := utils.GetJwtSecretString()
	if err != nil || strings.TrimSpace(sec) == "" {
		return nil, errors.New("JWT_SECRET not set")
	}
	tok, err := jwtlib.Parse(state, func(token *jwtlib.Token) (interface{}, error) {
		if token.Method.Alg() != jwtlib.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Header["alg"])
		}
		return []byte(sec), nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid state token")
		}
		return nil, err
	}
	if cl, ok := tok.Claims.(jwtlib.MapClaims); ok {
		// exp check is manual for MapClaims
		if expv, ok := cl["exp"].(float64); ok {
			if time.Unix(int64(expv), 0).Before(time.Now().Add(-5 * time.Second)) {
				return nil, errors.New("state expired")
			}
		}
		return cl, nil
	}
	return nil, errors.New("invalid claims type")
}

// GET /sso/authentik/start
func SSOLogin(c *gin.Context) {
	if os.Getenv("OPSDECK_SSO_ENABLE") != "1" {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "SSO not enabled"})
		return
	}
	cfg, err := loadOIDCConfig()
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	// Discover provider
	ctx := context.Background()
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to discover OIDC provider"})
		return
	}
	// OAuth2 config
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}
	// Build state
	nonce := fmt.Sprintf("%d", time.Now().UnixNano())
	st, err := signState(jwtlib.MapClaims{
		"typ":   "sso_state",
		"nonce": nonce,
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	})
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to sign state"})
		return
	}
	authURL := oauthCfg.AuthCodeURL(st, oauth2.SetAuthURLParam("nonce", nonce))
	c.Redirect(http.StatusFound, authURL)
}

// GET /sso/authentik/callback
func SSOCallback(c *gin.Context) {
	if os.Getenv("OPSDECK_SSO_ENABLE") != "1" {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "SSO not enabled"})
		return
	}
	cfg, err := loadOIDCConfig()
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	// Verify state
	state := c.Query("state")
	if state == "" {
		c.JSON(400, gin.H{"error": "missing state"})
		return
	}
	_, err = verifyState(state)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid state"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(400, gin.H{"error": "missing code"})
		return
	}
	// Discover & exchange code
	ctx := context.Background()
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		c.JSON(500, gin.H{"error": "provider discovery failed"})
		return
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}
	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		c.JSON(400, gin.H{"error": "token exchange failed"})
		return
	}
	// Verify ID Token
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		c.JSON(400, gin.H{"error": "missing id_token"})
		return
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	idt, err := verifier.Verify(ctx, rawID)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid id_token"})
		return
	}
	var claims struct {
		Email         string   `json:"email"`
		EmailVerified bool     `json:"email_verified"`
		Name          string   `json:"name"`
		GivenName     string   `json:"given_name"`
		FamilyName    string   `json:"family_name"`
		Groups        []string `json:"groups"`
	}
	if err := idt.Claims(&claims); err != nil {
		c.JSON(400, gin.H{"error": "cannot parse claims"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		c.JSON(400, gin.H{"error": "email not provided by IdP"})
		return
	}
	fullName := strings.TrimSpace(func() string {
		if claims.Name != "" {
			return claims.Name
		}
		return strings.TrimSpace(claims.GivenName + " " + claims.FamilyName)
	}())

	// Role from Authentik groups: membership in OPSDECK_SSO_ADMIN_GROUP
	// (default "opsdeck-admins") grants admin, anything else is viewer.
	role := "viewer"
	adminGroup := getEnvAny("OPSDECK_SSO_ADMIN_GROUP")
	if adminGroup == "" {
		adminGroup = "opsdeck-admins"
	}
	for _, g := range claims.Groups {
		if strings.EqualFold(g, adminGroup) {
			role = "admin"
			break
		}
	}

	// Upsert user
	var uidStr string
	_ = database.DB.Get(&uidStr, `SELECT id::text FROM users WHERE email=$1`, email)
	if uidStr == "" {
		// First user is always admin, regardless of group mapping
		var count int
		_ = database.DB.Get(&count, `SELECT COUNT(*) FROM users`)
		if count == 0 {
			role = "admin"
		}
		// create user with empty password (SSO-only account)
		newUID := uuid.New().String()
		_, _ = database.DB.Exec(`INSERT INTO users(id, full_name, email, hashed_password, role, created_at, updated_at)
			VALUES($1,$2,$3,'',$4,NOW(),NOW())`, newUID, fullName, email, role)
		uidStr = newUID
	} else {
		if fullName != "" {
			_, _ = database.DB.Exec(`UPDATE users SET full_name=$1, updated_at=NOW() WHERE id=$2`, fullName, uidStr)
		}
		// Keep the role in sync with the IdP group on every login
		_, _ = database.DB.Exec(`UPDATE users SET role=$1, updated_at=NOW() WHERE id=$2`, role, uidStr)
	}

	// Mint app JWT and redirect to frontend
	uid, _ := uuid.Parse(uidStr)
	jwtStr, err := utils.GenerateJWT(uid)
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to mint app token"})
		return
	}
	fe := strings.TrimRight(getEnvAny("OPSDECK_FRONTEND_BASE_URL", "FRONTEND_BASE_URL"), "/")
	path := os.Getenv("OPSDECK_SSO_REDIRECT_PATH")
	if path == "" {
		path = "/login/sso-callback"
	}
	// Append token as query param
	u, _ := url.Parse(fe + path)
	q := u.Query()
	q.Set("token", jwtStr)
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}
