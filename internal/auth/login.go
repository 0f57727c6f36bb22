/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login when the supplied username or
// password does not match the configured bootstrap admin account.
var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword bcrypt-hashes a plaintext password for storage in config or
// an environment secret.
func HashPassword(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Login checks username/password against the single configured admin
// account and, on success, issues a JWT with role "admin" whose user id is
// the admin username. StopTask's admin overrides apply to that requester
// when the username is in the admin-user set (models.IsAdminUser).
func Login(jwtSecret []byte, adminUsername, adminPasswordHash, username, password string, ttl time.Duration) (string, error) {
	if subtle.ConstantTimeCompare([]byte(username), []byte(adminUsername)) != 1 {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(adminPasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return Issue(jwtSecret, Claims{UserID: username, Role: "admin"}, ttl)
}
