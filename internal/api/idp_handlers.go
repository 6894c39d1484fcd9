package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/opsdeck-backend/internal/authentik"
)

// The IdP endpoints proxy Authentik's REST API so the console is the one
// place an operator manages identities. Calls go through a circuit breaker;
// while open, requests fail fast with 503 instead of hammering a down IdP.

func idpClient(c *gin.Context) (*authentik.Client, bool) {
	client, err := authentik.NewFromEnv()
	if err != nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Authentik is not configured: " + err.Error()})
		return nil, false
	}
	if !GetBreaker("authentik").Allow() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Authentik circuit breaker is open"})
		return nil, false
	}
	return client, true
}

// respondIdPError maps Authentik failures: API errors become 502 with the
// upstream status, transport errors become 502 and trip the breaker.
func respondIdPError(c *gin.Context, err error) {
	b := GetBreaker("authentik")
	var ae *authentik.APIError
	if errors.As(err, &ae) {
		// upstream answered; a 4xx is our fault, not an outage
		if ae.Status >= 500 {
			b.ReportFailure()
		} else {
			b.ReportSuccess()
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Authentik API error", "upstream_status": ae.Status, "body": ae.Body})
		return
	}
	b.ReportFailure()
	c.JSON(http.StatusBadGateway, gin.H{"error": "Authentik unreachable: " + err.Error()})
}

func idpCall[T any](c *gin.Context, op string, fn func(client *authentik.Client) (T, error)) (T, bool) {
	var zero T
	client, ok := idpClient(c)
	if !ok {
		return zero, false
	}
	start := time.Now()
	out, err := fn(client)
	RecordExternalOp(op, time.Since(start), err == nil)
	if err != nil {
		respondIdPError(c, err)
		return zero, false
	}
	GetBreaker("authentik").ReportSuccess()
	return out, true
}

// GetIdPUsers lists Authentik users
func GetIdPUsers(c *gin.Context) {
	users, ok := idpCall(c, "authentik_list_users", func(client *authentik.Client) ([]authentik.User, error) {
		return client.ListUsers(c.Request.Context())
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, users)
}

type createIdPUserRequest struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateIdPUser creates an Authentik user, optionally setting a password
func CreateIdPUser(c *gin.Context) {
	var req createIdPUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	user, ok := idpCall(c, "authentik_create_user", func(client *authentik.Client) (*authentik.User, error) {
		u, err := client.CreateUser(c.Request.Context(), req.Username, req.Name, req.Email)
		if err != nil {
			return nil, err
		}
		if req.Password != "" {
			if err := client.SetUserPassword(c.Request.Context(), u.PK, req.Password); err != nil {
				return nil, err
			}
		}
		return u, nil
	})
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, user)
}

// DeleteIdPUser removes an Authentik user by pk
func DeleteIdPUser(c *gin.Context) {
	pk, err := strconv.Atoi(c.Param("pk"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user pk"})
		return
	}
	_, ok := idpCall(c, "authentik_delete_user", func(client *authentik.Client) (struct{}, error) {
		return struct{}{}, client.DeleteUser(c.Request.Context(), pk)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
}

// GetIdPGroups lists Authentik groups
func GetIdPGroups(c *gin.Context) {
	groups, ok := idpCall(c, "authentik_list_groups", func(client *authentik.Client) ([]authentik.Group, error) {
		return client.ListGroups(c.Request.Context())
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, groups)
}

type createIdPGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateIdPGroup creates an Authentik group
func CreateIdPGroup(c *gin.Context) {
	var req createIdPGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	group, ok := idpCall(c, "authentik_create_group", func(client *authentik.Client) (*authentik.Group, error) {
		return client.CreateGroup(c.Request.Context(), req.Name)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, group)
}

// DeleteIdPGroup removes an Authentik group by pk
func DeleteIdPGroup(c *gin.Context) {
	pk := c.Param("pk")
	_, ok := idpCall(c, "authentik_delete_group", func(client *authentik.Client) (struct{}, error) {
		return struct{}{}, client.DeleteGroup(c.Request.Context(), pk)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

type addGroupMemberRequest struct {
	UserPK int `json:"user_pk" binding:"required"`
}

// AddIdPGroupMember adds a user to a group
func AddIdPGroupMember(c *gin.Context) {
	groupPK := c.Param("pk")
	var req addGroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	_, ok := idpCall(c, "authentik_add_group_member", func(client *authentik.Client) (struct{}, error) {
		return struct{}{}, client.AddUserToGroup(c.Request.Context(), groupPK, req.UserPK)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User added to group"})
}

// GetIdPApplications lists Authentik applications
func GetIdPApplications(c *gin.Context) {
	apps, ok := idpCall(c, "authentik_list_apps", func(client *authentik.Client) ([]authentik.Application, error) {
		return client.ListApplications(c.Request.Context())
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, apps)
}

type createIdPApplicationRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug" binding:"required"`
}

// CreateIdPApplication creates an Authentik application
func CreateIdPApplication(c *gin.Context) {
	var req createIdPApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	app, ok := idpCall(c, "authentik_create_app", func(client *authentik.Client) (*authentik.Application, error) {
		return client.CreateApplication(c.Request.Context(), req.Name, req.Slug)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, app)
}

// DeleteIdPApplication removes an Authentik application by slug
func DeleteIdPApplication(c *gin.Context) {
	slug := c.Param("slug")
	_, ok := idpCall(c, "authentik_delete_app", func(client *authentik.Client) (struct{}, error) {
		return struct{}{}, client.DeleteApplication(c.Request.Context(), slug)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Application deleted"})
}

// GetIdPProviders lists Authentik providers
func GetIdPProviders(c *gin.Context) {
	providers, ok := idpCall(c, "authentik_list_providers", func(client *authentik.Client) ([]authentik.Provider, error) {
		return client.ListProviders(c.Request.Context())
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, providers)
}
