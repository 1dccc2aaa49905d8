package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/custody/internal/db"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/store"
)

const (
	testJWTSecret = "test-secret"
	testPassword  = "password123"
)

type testEnv struct {
	server *httptest.Server
	db     *sql.DB
	admin  string
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)
	router := NewRouter(Options{DB: database, JWTSecret: testJWTSecret, MetricsEnabled: true})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	env := &testEnv{server: server, db: database}
	env.createUser(t, "admin", model.RoleAdmin)
	env.admin = env.login(t, "admin")
	return env
}

func (e *testEnv) createUser(t *testing.T, username, role string) *model.User {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	u, err := store.CreateUser(context.Background(), e.db, &model.User{
		Username:     username,
		PasswordHash: string(hash),
		FullName:     strings.ToUpper(username[:1]) + username[1:],
		Role:         role,
	})
	if err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return u
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": testPassword})
	resp, err := http.Post(e.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s failed: %d", username, resp.StatusCode)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	json.NewDecoder(resp.Body).Decode(&loginResp)
	if loginResp.Token == "" {
		t.Fatal("empty token from login")
	}
	return loginResp.Token
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (e *testEnv) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response (status %d): %v", method, path, resp.StatusCode, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	var health map[string]string
	if code := env.do(t, "GET", "/health", "", nil, &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health: %d %v", code, health)
	}

	env.do(t, "GET", "/api/evidence", env.admin, nil, nil)

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `custody_http_requests_total{method="GET",route="/api/evidence`) {
		t.Errorf("metrics missing evidence route counter")
	}
}

func TestLoginEndpoint(t *testing.T) {
	env := setupTestServer(t)

	code := env.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "admin", "password": "wrong"}, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", code)
	}

	code = env.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "ADMIN", "password": testPassword}, nil)
	if code != http.StatusOK {
		t.Errorf("expected case-insensitive username login, got %d", code)
	}

	code = env.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "admin"}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing password, got %d", code)
	}
}

func TestUnauthenticated(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{"/api/evidence", "/api/transfers", "/api/lookups/locations", "/api/auth/me"} {
		if code := env.do(t, "GET", path, "", nil, nil); code != http.StatusUnauthorized {
			t.Errorf("GET %s without session: expected 401, got %d", path, code)
		}
	}
	if code := env.do(t, "GET", "/api/evidence", "garbage", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", code)
	}
}

func TestCookieSessionAndLogout(t *testing.T) {
	env := setupTestServer(t)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": testPassword})
	resp, err := client.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.MaxAge != 24*60*60 {
		t.Fatalf("expected HTTP-only 24h session cookie, got %+v", cookie)
	}

	resp, err = client.Get(env.server.URL + "/api/auth/me")
	if err != nil {
		t.Fatal(err)
	}
	var me model.User
	json.NewDecoder(resp.Body).Decode(&me)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || me.Username != "admin" {
		t.Fatalf("me via cookie: %d %+v", resp.StatusCode, me)
	}

	// Capture the token before logout clears the cookie.
	token := cookie.Value

	resp, err = client.Post(env.server.URL+"/api/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: %d", resp.StatusCode)
	}

	if code := env.do(t, "GET", "/api/auth/me", token, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("revoked token still accepted: %d", code)
	}
}

func TestDeactivatedUserLosesAccess(t *testing.T) {
	env := setupTestServer(t)
	analyst := env.createUser(t, "analyst", model.RoleAnalyst)
	token := env.login(t, "analyst")

	if code := env.do(t, "PATCH", "/api/users/"+itoa(analyst.ID), env.admin, map[string]any{"active": false}, nil); code != http.StatusOK {
		t.Fatalf("deactivate: %d", code)
	}
	if code := env.do(t, "GET", "/api/evidence", token, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for deactivated user, got %d", code)
	}
	if code := env.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "analyst", "password": testPassword}, nil); code != http.StatusUnauthorized {
		t.Errorf("expected deactivated login to fail, got %d", code)
	}
}

func TestChangePassword(t *testing.T) {
	env := setupTestServer(t)

	code := env.do(t, "PUT", "/api/auth/password", env.admin, map[string]string{
		"current_password": "wrong-one", "new_password": "newpassword1",
	}, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong current password, got %d", code)
	}

	code = env.do(t, "PUT", "/api/auth/password", env.admin, map[string]string{
		"current_password": testPassword, "new_password": "short",
	}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", code)
	}

	code = env.do(t, "PUT", "/api/auth/password", env.admin, map[string]string{
		"current_password": testPassword, "new_password": "newpassword1",
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("change password: %d", code)
	}

	code = env.do(t, "POST", "/api/auth/login", "", map[string]string{"username": "admin", "password": "newpassword1"}, nil)
	if code != http.StatusOK {
		t.Errorf("login with new password: %d", code)
	}
}

func TestUsersAdmin(t *testing.T) {
	env := setupTestServer(t)
	analyst := env.createUser(t, "analyst", model.RoleAnalyst)
	analystToken := env.login(t, "analyst")

	if code := env.do(t, "GET", "/api/users", analystToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("analyst listing users: expected 403, got %d", code)
	}

	var created model.User
	code := env.do(t, "POST", "/api/users", env.admin, map[string]string{
		"username": "sup", "password": testPassword, "role": model.RoleSupervisor, "full_name": "Sue Pervisor",
	}, &created)
	if code != http.StatusCreated || created.Role != model.RoleSupervisor {
		t.Fatalf("create user: %d %+v", code, created)
	}

	if code := env.do(t, "POST", "/api/users", env.admin, map[string]string{
		"username": "SUP", "password": testPassword, "role": model.RoleAnalyst,
	}, nil); code != http.StatusConflict {
		t.Errorf("duplicate username: expected 409, got %d", code)
	}

	if code := env.do(t, "POST", "/api/users", env.admin, map[string]string{
		"username": "x", "password": testPassword, "role": "wizard",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid role: expected 400, got %d", code)
	}

	// Self-deletion is refused.
	var me model.User
	env.do(t, "GET", "/api/auth/me", env.admin, nil, &me)
	if code := env.do(t, "DELETE", "/api/users/"+itoa(me.ID), env.admin, nil, nil); code != http.StatusBadRequest {
		t.Errorf("self delete: expected 400, got %d", code)
	}

	// A current custodian cannot be deleted.
	var item model.EvidenceItem
	env.do(t, "POST", "/api/evidence", env.admin, map[string]any{
		"case_number": "C-1", "item_number": "1", "description": "held",
		"current_custodian_id": analyst.ID,
	}, &item)
	if code := env.do(t, "DELETE", "/api/users/"+itoa(analyst.ID), env.admin, nil, nil); code != http.StatusConflict {
		t.Errorf("delete custodian: expected 409, got %d", code)
	}

	if code := env.do(t, "DELETE", "/api/users/"+itoa(created.ID), env.admin, nil, nil); code != http.StatusOK {
		t.Errorf("delete user: %d", code)
	}
	if code := env.do(t, "DELETE", "/api/users/"+itoa(created.ID), env.admin, nil, nil); code != http.StatusNotFound {
		t.Errorf("delete twice: expected 404, got %d", code)
	}
}

func TestLookupsAPI(t *testing.T) {
	env := setupTestServer(t)
	env.createUser(t, "analyst", model.RoleAnalyst)
	analystToken := env.login(t, "analyst")

	var locations []model.Location
	if code := env.do(t, "GET", "/api/lookups/locations", analystToken, nil, &locations); code != http.StatusOK || len(locations) != 5 {
		t.Fatalf("list locations: %d, %d rows", code, len(locations))
	}

	if code := env.do(t, "POST", "/api/lookups/locations", analystToken, map[string]string{"name": "Garage"}, nil); code != http.StatusForbidden {
		t.Errorf("analyst create: expected 403, got %d", code)
	}

	var loc model.Location
	if code := env.do(t, "POST", "/api/lookups/locations", env.admin, map[string]any{"name": "Garage", "capacity": 10}, &loc); code != http.StatusCreated {
		t.Fatalf("create location: %d", code)
	}
	if loc.Capacity == nil || *loc.Capacity != 10 {
		t.Errorf("capacity not stored: %+v", loc)
	}

	if code := env.do(t, "POST", "/api/lookups/locations", env.admin, map[string]string{"name": "garage"}, nil); code != http.StatusConflict {
		t.Errorf("case-insensitive duplicate: expected 409, got %d", code)
	}
	if code := env.do(t, "POST", "/api/lookups/item-types", env.admin, map[string]string{"name": "  "}, nil); code != http.StatusBadRequest {
		t.Errorf("blank name: expected 400, got %d", code)
	}

	var updated model.Location
	if code := env.do(t, "PATCH", "/api/lookups/locations/"+itoa(loc.ID), env.admin, map[string]any{"active": false}, &updated); code != http.StatusOK || updated.Active {
		t.Errorf("deactivate location: %d %+v", code, updated)
	}

	env.do(t, "GET", "/api/lookups/locations", env.admin, nil, &locations)
	if len(locations) != 5 {
		t.Errorf("inactive location listed by default: %d rows", len(locations))
	}
	env.do(t, "GET", "/api/lookups/locations?all=true", env.admin, nil, &locations)
	if len(locations) != 6 {
		t.Errorf("expected 6 rows with all=true, got %d", len(locations))
	}

	var reason model.TransferReason
	if code := env.do(t, "POST", "/api/lookups/transfer-reasons", env.admin, map[string]any{"reason": "Lab Return", "requires_approval": true}, &reason); code != http.StatusCreated || !reason.RequiresApproval {
		t.Errorf("create reason: %d %+v", code, reason)
	}

	if code := env.do(t, "GET", "/api/lookups/analysts", env.admin, nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown kind: expected 404, got %d", code)
	}

	// A location referenced by an item cannot be deleted.
	roomA := locationByName(t, env, "Evidence Room A")
	env.do(t, "POST", "/api/evidence", env.admin, map[string]any{
		"case_number": "L-1", "item_number": "1", "description": "boxed", "current_location_id": roomA,
	}, nil)
	if code := env.do(t, "DELETE", "/api/lookups/locations/"+itoa(roomA), env.admin, nil, nil); code != http.StatusConflict {
		t.Errorf("delete referenced location: expected 409, got %d", code)
	}
	if code := env.do(t, "DELETE", "/api/lookups/locations/"+itoa(loc.ID), env.admin, nil, nil); code != http.StatusOK {
		t.Errorf("delete unused location: %d", code)
	}
	if code := env.do(t, "GET", "/api/lookups/locations/"+itoa(loc.ID), env.admin, nil, nil); code != http.StatusNotFound {
		t.Errorf("deleted location still readable: %d", code)
	}
}

func TestAuditLogAdminOnly(t *testing.T) {
	env := setupTestServer(t)
	env.createUser(t, "analyst", model.RoleAnalyst)
	analystToken := env.login(t, "analyst")

	var item model.EvidenceItem
	env.do(t, "POST", "/api/evidence", env.admin, map[string]any{
		"case_number": "A-1", "item_number": "1", "description": "audited",
	}, &item)

	if code := env.do(t, "GET", "/api/audit", analystToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("analyst audit: expected 403, got %d", code)
	}

	var entries []model.AuditEntry
	code := env.do(t, "GET", "/api/audit?table=evidence_items&record_id="+itoa(item.ID), env.admin, nil, &entries)
	if code != http.StatusOK || len(entries) == 0 {
		t.Fatalf("audit: %d, %d entries", code, len(entries))
	}
	if entries[0].Username != "admin" {
		t.Errorf("audit entry actor = %q", entries[0].Username)
	}
}

func TestSignaturesAPI(t *testing.T) {
	env := setupTestServer(t)

	var sig model.Signature
	code := env.do(t, "POST", "/api/signatures", env.admin, map[string]string{
		"signature_type": model.SignatureTyped, "signature_data": "J. Admin",
	}, &sig)
	if code != http.StatusCreated {
		t.Fatalf("create signature: %d", code)
	}

	if code := env.do(t, "POST", "/api/signatures", env.admin, map[string]string{
		"signature_type": "carved", "signature_data": "x",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid type: expected 400, got %d", code)
	}

	var sigs []model.Signature
	env.do(t, "GET", "/api/signatures?signature_type=typed", env.admin, nil, &sigs)
	if len(sigs) != 1 || sigs[0].ID != sig.ID {
		t.Errorf("unexpected signatures: %+v", sigs)
	}

	if code := env.do(t, "GET", "/api/signatures/"+itoa(sig.ID+100), env.admin, nil, nil); code != http.StatusNotFound {
		t.Errorf("missing signature: expected 404, got %d", code)
	}
}
