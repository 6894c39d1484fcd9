package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/opsdeck-backend/internal/sysadmin"
)

// respondCmdError maps failed system commands to 422 with their stderr.
func respondCmdError(c *gin.Context, err error) {
	var ce *sysadmin.CmdError
	if errors.As(err, &ce) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "command failed", "stderr": ce.Stderr, "exit_code": ce.ExitCode})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// GetSystemUsers lists human Linux accounts (uid >= 1000)
func GetSystemUsers(c *gin.Context) {
	users, err := sysadmin.ListUsers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read system users: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

// CreateSystemUser adds a Linux account with a home directory
func CreateSystemUser(c *gin.Context) {
	var req CreateSystemUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	start := time.Now()
	err := sysadmin.CreateUser(c.Request.Context(), req.Username, req.Password)
	RecordExternalOp("useradd", time.Since(start), err == nil)
	if err != nil {
		if errors.Is(err, sysadmin.ErrInvalidUsername) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondCmdError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User created", "username": req.Username})
}

// DeleteSystemUser removes a Linux account and its home directory
func DeleteSystemUser(c *gin.Context) {
	username := c.Param("username")
	start := time.Now()
	err := sysadmin.DeleteUser(c.Request.Context(), username)
	RecordExternalOp("userdel", time.Since(start), err == nil)
	if err != nil {
		if errors.Is(err, sysadmin.ErrProtectedUser) || errors.Is(err, sysadmin.ErrInvalidUsername) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondCmdError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted", "username": username})
}

// GetFirewall returns UFW status and numbered rules
func GetFirewall(c *gin.Context) {
	state, err := sysadmin.FirewallState(c.Request.Context())
	if err != nil {
		respondCmdError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// AddFirewallRule adds an allow/deny rule
func AddFirewallRule(c *gin.Context) {
	var req AddFirewallRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	start := time.Now()
	err := sysadmin.AddFirewallRule(c.Request.Context(), req.Action, req.Port, req.Proto, req.From)
	RecordExternalOp("ufw_add", time.Since(start), err == nil)
	if err != nil {
		if errors.Is(err, sysadmin.ErrInvalidRule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondCmdError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Rule added"})
}

// DeleteFirewallRule removes a rule by its UFW number
func DeleteFirewallRule(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule number"})
		return
	}
	start := time.Now()
	err = sysadmin.DeleteFirewallRule(c.Request.Context(), number)
	RecordExternalOp("ufw_delete", time.Since(start), err == nil)
	if err != nil {
		respondCmdError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted", "number": number})
}
