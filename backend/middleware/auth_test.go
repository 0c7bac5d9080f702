// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier(t *testing.T) {
	v := NewVerifier("secret", "efchat")

	token, err := v.Sign(Claims{UserID: "u1", Username: "alice"}, time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewVerifier("other", "efchat").Verify(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		_, err := NewVerifier("secret", "someone-else").Verify(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		old, err := v.Sign(Claims{UserID: "u1"}, -time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(old)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("subject fallback", func(t *testing.T) {
		tok, err := v.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u2"}}, time.Hour)
		require.NoError(t, err)
		claims, err := v.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, "u2", claims.UserID)
	})

	t.Run("no algorithm none", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.Verify(unsigned)
		assert.Error(t, err)
	})
}

func TestAuthMiddleware(t *testing.T) {
	v := NewVerifier("secret", "")
	token, err := v.Sign(Claims{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	var seen string
	h := NewAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserID(r)
		claims, ok := GetClaims(r)
		require.True(t, ok)
		assert.Equal(t, "u1", claims.UserID)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", seen)

	req = httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "query tokens are for the socket handshake only")
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", BearerToken(req, true))
	assert.Equal(t, "", BearerToken(req, false))

	req.Header.Set("Authorization", "bearer h")
	assert.Equal(t, "h", BearerToken(req, true))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", BearerToken(req, true))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://efchat.net"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://efchat.net")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://efchat.net", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
