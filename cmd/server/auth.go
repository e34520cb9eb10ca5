package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/stjgraph/stjrag/store"
)

const (
	sessionCookie = "stjrag_session"
	sessionTTL    = 30 * 24 * time.Hour
	adminOpenID   = "admin"
)

type sessionClaims struct {
	OpenID string `json:"openId"`
	jwt.RegisteredClaims
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// login validates the admin password and issues the session cookie.
// ADMIN_PASSWORD may be a bcrypt hash or, in development, plain text.
func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}
	if h.cfg.AdminPassword == "" || !passwordMatches(h.cfg.AdminPassword, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	userID, err := h.svc.Store().UpsertUser(c.Request.Context(), store.User{
		OpenID: adminOpenID,
		Name:   "Administrador",
		Role:   "admin",
	})
	if err != nil {
		h.log.Error("user upsert failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		OpenID: adminOpenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminOpenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})
	signed, err := token.SignedString([]byte(h.cfg.JWTSecret))
	if err != nil {
		h.log.Error("token signing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, signed, int(sessionTTL.Seconds()), "/", "", h.cfg.Production(), true)
	c.JSON(http.StatusOK, gin.H{"userId": userID, "openId": adminOpenID})
}

func passwordMatches(configured, provided string) bool {
	if strings.HasPrefix(configured, "$2a$") || strings.HasPrefix(configured, "$2b$") || strings.HasPrefix(configured, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) == 1
}

// sessionMiddleware resolves the session cookie into the request user.
// Absence is not an error: public procedures run unauthenticated.
func (h *handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(sessionCookie)
		if err != nil || raw == "" {
			c.Next()
			return
		}

		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(h.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.Next()
			return
		}

		user, err := h.svc.Store().GetUserByOpenID(c.Request.Context(), claims.OpenID)
		if err == nil && user != nil {
			c.Set("user", user)
		}
		c.Next()
	}
}

// requireAuth guards protected procedures.
func (h *handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		}
	}
}

func currentUser(c *gin.Context) *store.User {
	v, ok := c.Get("user")
	if !ok {
		return nil
	}
	user, _ := v.(*store.User)
	return user
}

func (h *handler) me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *handler) logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", h.cfg.Production(), true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
