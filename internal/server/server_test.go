package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gridwell/internal/domain"
	"gridwell/internal/engine"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	handler, err := New(Config{
		Engine:   engine.New(),
		BasePath: "/v1",
		Auth:     auth,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func anonymous() AuthConfig {
	return AuthConfig{AllowAnonymous: true}
}

func sampleGridBody() map[string]any {
	return map[string]any{
		"rows": [][]map[string]any{
			{{"field_name": "id", "data_type": "number", "required": true}},
			{{"field_name": "name", "data_type": "text", "constraints": "minLength: 2"}},
		},
	}
}

func TestHealthNoAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{}) // auth required everywhere else
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/detect", map[string]any{"content": "x"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code %q", envelope.Error.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/detect",
		map[string]any{"content": "<?xml version=\"1.0\"?>"}, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{APIKeys: map[string]string{"ci-bot": HashAPIKey("raw-key")}})
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/detect",
		map[string]any{"content": "x"}, map[string]string{"X-Api-Key": "raw-key"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/detect",
		map[string]any{"content": "x"}, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key status %d", res.StatusCode)
	}
}

func TestConvertFromGrid(t *testing.T) {
	srv := newTestServer(t, anonymous())
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/convert/from-grid", map[string]any{
		"grid":    sampleGridBody(),
		"formats": []string{"xsd", "jsonschema"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var result domain.ConversionResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Outputs) != 2 || result.Outputs["xsd"] == "" || result.Outputs["jsonschema"] == "" {
		t.Fatalf("outputs %v", result.Outputs)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("errors %v", result.Errors)
	}
}

func TestConvertToGridAndBack(t *testing.T) {
	srv := newTestServer(t, anonymous())
	from, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/convert/from-grid", map[string]any{
		"grid":    sampleGridBody(),
		"formats": []string{"yaml"},
	}, nil)
	if from.StatusCode != http.StatusOK {
		t.Fatalf("from-grid status %d: %s", from.StatusCode, data)
	}
	var conv domain.ConversionResult
	if err := json.Unmarshal(data, &conv); err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/convert/to-grid", map[string]any{
		"content": conv.Outputs["yaml"],
		"format":  "yaml",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to-grid status %d: %s", res.StatusCode, data)
	}
	var out ToGridResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Grid.Rows) < 10 {
		t.Fatalf("grid rows %d, want baseline padding", len(out.Grid.Rows))
	}
	if out.Grid.Rows[0][0].FieldName != "id" {
		t.Fatalf("first field %q", out.Grid.Rows[0][0].FieldName)
	}
}

func TestSecurityViolationEnvelope(t *testing.T) {
	srv := newTestServer(t, anonymous())
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/convert/to-grid", map[string]any{
		"content": `<!DOCTYPE schema [<!ENTITY x "y">]><schema/>`,
		"format":  "xsd",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "security_violation" {
		t.Fatalf("code %q", envelope.Error.Code)
	}
}

func TestDetectEndpoint(t *testing.T) {
	srv := newTestServer(t, anonymous())
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/detect", map[string]any{
		"content": `{"type":"object","properties":{"id":{"type":"number"}}}`,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var out DetectResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Detected || out.Format != "jsonschema" {
		t.Fatalf("detect %+v", out)
	}
}

func TestGridLifecycle(t *testing.T) {
	srv := newTestServer(t, anonymous())
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/grids", map[string]any{
		"id":   "g1",
		"grid": sampleGridBody(),
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/grids/g1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}
	var got GridResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Stats.FieldCount != 2 || got.Stats.RequiredCount != 1 {
		t.Fatalf("stats %+v", got.Stats)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/grids/g1/export?format=csv", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, data)
	}
	var exported ExportResponse
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatal(err)
	}
	if exported.Format != "csv" || exported.Content == "" {
		t.Fatalf("export %+v", exported)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v1/grids/g1", nil, nil)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		t.Fatalf("destroy status %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/grids/g1", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("after destroy status %d: %s", res.StatusCode, data)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, anonymous())
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"id": "s1", "user_id": "alice",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"id": "s1", "user_id": "bob",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions/s1/join", map[string]any{
		"user_id": "bob",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("join status %d: %s", res.StatusCode, data)
	}
	var joined JoinSessionResponse
	if err := json.Unmarshal(data, &joined); err != nil {
		t.Fatal(err)
	}
	if len(joined.ActiveUsers) != 1 || joined.ActiveUsers[0].ID != "bob" {
		t.Fatalf("join reply %+v", joined)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions/s1/conflicts", map[string]any{
		"conflict": map[string]any{
			"id":       "conf-1",
			"position": map[string]int{"row": 1, "col": 0},
			"conflicting_changes": []map[string]any{
				{"id": "c1", "type": "cell-update", "position": map[string]int{"row": 1, "col": 0}, "user_id": "alice", "timestamp": 100, "new_value": "a", "session_id": "s1"},
				{"id": "c2", "type": "cell-update", "position": map[string]int{"row": 1, "col": 0}, "user_id": "bob", "timestamp": 200, "new_value": "b", "session_id": "s1"},
			},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("conflict status %d: %s", res.StatusCode, data)
	}
	var resolution domain.ConflictResolution
	if err := json.Unmarshal(data, &resolution); err != nil {
		t.Fatal(err)
	}
	if resolution.Resolution != domain.ResolutionAcceptLocal || resolution.ResolvedValue != "b" {
		t.Fatalf("resolution %+v", resolution)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/sessions/s1/changes", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("history disabled should 404, got %d: %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v1/sessions/s1", nil, nil)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		t.Fatalf("destroy status %d", res.StatusCode)
	}
}
