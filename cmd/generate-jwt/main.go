// Command generate-jwt mints a standalone admin JWT for local testing,
// using the same claims shape and secret lookup as
// internal/handlers.ValidateAdminJWTToken, without going through the
// TOTP-gated login handler.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type adminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func main() {
	username := flag.String("username", "admin", "admin username to embed in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	jwtSecret := []byte(os.Getenv("ADMIN_JWT_SECRET"))
	if len(jwtSecret) == 0 {
		jwtSecret = []byte("the-compact-allocator-admin-jwt-secret-default-change-me")
		fmt.Println("ADMIN_JWT_SECRET not set, signing with the default development secret")
	}

	now := time.Now()
	claims := adminJWTClaims{
		Username: *username,
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "the-compact-allocator-admin",
			Subject:   *username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		fmt.Printf("error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(tokenString)
}
