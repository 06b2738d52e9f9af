package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/aifocusdev/focos-ia-sub000/internal/config"
)

func TestBaseURL(t *testing.T) {
	if got := baseURL(":8080"); got != "http://127.0.0.1:8080" {
		t.Errorf("baseURL(:8080) = %q", got)
	}
	if got := baseURL("10.0.0.2:9000"); got != "http://10.0.0.2:9000" {
		t.Errorf("baseURL = %q", got)
	}
}

func TestAdminCall(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "cli-secret"

	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.ParseToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "), "cli-secret")
		if err != nil || !p.IsAdmin() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/admin/agents":
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":5,"name":"Caio","role":"agent"}`))
		default:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"store: still referenced"}`))
		}
	}))
	defer srv.Close()

	adminURL = srv.URL
	defer func() { adminURL = "" }()

	var out struct {
		ID int64 `json:"id"`
	}
	err := adminCall(context.Background(), &cfg, http.MethodPost, "/admin/agents", map[string]string{"name": "Caio"}, &out, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != 5 || gotBody["name"] != "Caio" {
		t.Errorf("out = %+v body = %v", out, gotBody)
	}

	err = adminCall(context.Background(), &cfg, http.MethodDelete, "/admin/integrations/1", nil, nil, time.Second)
	if err == nil || !strings.Contains(err.Error(), "still referenced") {
		t.Errorf("err = %v, want server message", err)
	}
}
