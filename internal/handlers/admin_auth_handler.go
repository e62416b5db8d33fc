package handlers

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

// AdminAuthHandler issues operator JWTs after a password and TOTP check.
// The administrative routes (chains-cache refresh) are gated by the IP
// allowlist only; none of them checks these tokens. It is unrelated to
// sponsor authorization, which is signature/registration-based, see
// internal/sponsorauth.
type AdminAuthHandler struct {
	jwtSecret  []byte
	totpSecret string
}

type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func NewAdminAuthHandler() *AdminAuthHandler {
	totpSecret := os.Getenv("ADMIN_TOTP_SECRET")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if totpSecret == "" || adminPassword == "" {
		logrus.Warn("ADMIN_TOTP_SECRET or ADMIN_PASSWORD not set; admin login will reject all requests")
	}

	jwtSecretStr := os.Getenv("ADMIN_JWT_SECRET")
	var jwtSecret []byte
	if jwtSecretStr != "" {
		jwtSecret = []byte(jwtSecretStr)
	} else {
		jwtSecret = []byte("the-compact-allocator-admin-jwt-secret-default-change-me")
		logrus.Warn("using default ADMIN_JWT_SECRET; set it via the environment in production")
	}

	return &AdminAuthHandler{jwtSecret: jwtSecret, totpSecret: totpSecret}
}

// AdminLoginHandler verifies username, password, and TOTP code and issues
// a 24-hour admin JWT on success.
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.totpSecret == "" {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{Success: false, Message: "server misconfiguration: ADMIN_TOTP_SECRET not set"})
		return
	}
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminPassword == "" {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{Success: false, Message: "server misconfiguration: ADMIN_PASSWORD not set"})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AdminLoginResponse{Success: false, Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	expectedUsername := os.Getenv("ADMIN_USERNAME")
	if expectedUsername == "" {
		expectedUsername = "admin"
	}
	if req.Username != expectedUsername || req.Password != adminPassword {
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{Success: false, Message: "invalid credentials"})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{Success: false, Message: "invalid TOTP code"})
		return
	}

	token, err := h.generateAdminJWTToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{Success: false, Message: "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, AdminLoginResponse{Success: true, Token: token, Message: "login successful"})
}

// GenerateTOTPSecretHandler issues a fresh TOTP secret during initial
// setup; disabled once ADMIN_TOTP_SECRET is configured.
func (h *AdminAuthHandler) GenerateTOTPSecretHandler(c *gin.Context) {
	if os.Getenv("ADMIN_TOTP_SECRET") != "" {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "TOTP secret already configured in environment"})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "The Compact Allocator",
		AccountName: "admin@allocator",
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to generate TOTP secret"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"secret":  key.Secret(),
		"url":     key.URL(),
		"message": "save this secret to ADMIN_TOTP_SECRET and use it to generate TOTP codes",
	})
}

func (h *AdminAuthHandler) generateAdminJWTToken(username string) (string, error) {
	claims := AdminJWTClaims{
		Username: username,
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "the-compact-allocator-admin",
			Subject:   username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(h.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return tokenString, nil
}

// ValidateAdminJWTToken verifies an admin bearer token.
func ValidateAdminJWTToken(tokenString string) (*AdminJWTClaims, error) {
	jwtSecretStr := os.Getenv("ADMIN_JWT_SECRET")
	var jwtSecret []byte
	if jwtSecretStr != "" {
		jwtSecret = []byte(jwtSecretStr)
	} else {
		jwtSecret = []byte("the-compact-allocator-admin-jwt-secret-default-change-me")
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse admin token: %w", err)
	}
	if claims, ok := token.Claims.(*AdminJWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid admin token")
}
