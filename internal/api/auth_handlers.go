package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/utils"
)

var errRegistrationClosed = errors.New("registration closed")

// bearerUserID extracts the user ID from an Authorization header if the
// request carries a valid session token. Registration is a public route, so
// this cannot rely on AuthMiddleware.
func bearerUserID(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	secret, err := utils.GetJwtSecretBytes()
	if err != nil {
		return "", false
	}
	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	id, _ := claims["user_id"].(string)
	return id, id != ""
}

// RegisterUser handles user registration requests. The first registered
// user becomes the admin; everyone after that is a viewer.
func RegisterUser(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	// Registration decides the role from the current user count, so it
	// runs in a transaction to avoid racing concurrent first registrations.
	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start database transaction"})
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Println("Recovered in RegisterUser, rolling back transaction:", r)
			tx.Rollback()
		} else if err != nil {
			log.Println("Error in RegisterUser, rolling back transaction:", err)
			tx.Rollback()
		}
	}()

	var count int
	err = tx.Get(&count, `SELECT COUNT(*) FROM users`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return // Triggers rollback
	}
	role := "viewer"
	if count == 0 {
		role = "admin"
	} else {
		// Once an operator exists, only admins may create further accounts.
		var callerRole string
		if callerID, ok := bearerUserID(c); ok {
			_ = tx.Get(&callerRole, `SELECT role FROM users WHERE id=$1`, callerID)
		}
		if callerRole != "admin" {
			err = errRegistrationClosed
			c.JSON(http.StatusForbidden, gin.H{"error": "Registration is closed. Ask an administrator to create the account."})
			return // Triggers rollback
		}
	}

	newUser := database.User{
		ID:             uuid.New(),
		FullName:       req.FullName,
		Email:          req.Email,
		HashedPassword: hashedPassword,
		Role:           role,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	userQuery := `INSERT INTO users (id, full_name, email, hashed_password, role, created_at, updated_at)
				  VALUES (:id, :full_name, :email, :hashed_password, :role, :created_at, :updated_at)`
	_, err = tx.NamedExec(userQuery, newUser)
	if err != nil {
		if strings.Contains(err.Error(), "unique constraint") {
			c.JSON(http.StatusConflict, gin.H{"error": "Email address already registered"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		}
		return // Triggers rollback
	}

	err = tx.Commit()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit registration transaction"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user_id": newUser.ID,
		"email":   newUser.Email,
		"role":    newUser.Role,
	})
}

func LoginUser(c *gin.Context) {
	var req LoginRequest

	// Bind JSON request body and validate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	// Find the user by email in the database
	var user database.User
	query := `SELECT id, full_name, email, hashed_password, role, created_at, updated_at FROM users WHERE email=$1`
	err := database.DB.Get(&user, query, req.Email) // Use Get for single row

	if err != nil {
		if err == sql.ErrNoRows {
			// User not found
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		} else {
			// Other database error
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error: " + err.Error()})
		}
		return
	}

	// Check if the provided password matches the stored hash
	if !utils.CheckPasswordHash(req.Password, user.HashedPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	// Passwords match - Generate a JWT
	tokenString, err := utils.GenerateJWT(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token: " + err.Error()})
		return
	}

	// Respond with the JWT token
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   tokenString,
		"user_id": user.ID,
		"role":    user.Role,
	})
}
