package hubstub

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

func issueToken(t *testing.T, server *httptest.Server, filename, tier string) (token, uploadURL string) {
	t.Helper()
	body := strings.NewReader(`{"filename": "` + filename + `", "content_length": 4, "storage_tier": "` + tier + `"}`)
	resp, err := http.Post(server.URL+"/api/v1/upload-token", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token request status = %d", resp.StatusCode)
	}

	var payload struct {
		Token     string `json:"token"`
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	return payload.Token, payload.UploadURL
}

func doUpload(t *testing.T, server *httptest.Server, token, uploadURL string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "data.parquet")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("PAR1"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+uploadURL, &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestTokenIsSingleUse(t *testing.T) {
	stub := New(zap.NewNop())
	server := httptest.NewServer(stub.Engine())
	defer server.Close()

	token, uploadURL := issueToken(t, server, "data.parquet", "temp")

	resp := doUpload(t, server, token, uploadURL)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d, want 200", resp.StatusCode)
	}

	resp = doUpload(t, server, token, uploadURL)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("second upload status = %d, want 401", resp.StatusCode)
	}
}

func TestTokenBoundToUploadURL(t *testing.T) {
	stub := New(zap.NewNop())
	server := httptest.NewServer(stub.Engine())
	defer server.Close()

	token, _ := issueToken(t, server, "a.parquet", "temp")
	_, otherURL := issueToken(t, server, "b.parquet", "temp")

	resp := doUpload(t, server, token, otherURL)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("cross-token upload status = %d, want 401", resp.StatusCode)
	}
}

func TestUploadWithoutTokenRejected(t *testing.T) {
	stub := New(zap.NewNop())
	server := httptest.NewServer(stub.Engine())
	defer server.Close()

	_, uploadURL := issueToken(t, server, "a.parquet", "temp")
	resp := doUpload(t, server, "not-a-token", uploadURL)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bogus token status = %d, want 401", resp.StatusCode)
	}
}

func TestUploadReducesCapacity(t *testing.T) {
	stub := New(zap.NewNop())
	server := httptest.NewServer(stub.Engine())
	defer server.Close()

	before := statusAvailable(t, server, "temp")

	token, uploadURL := issueToken(t, server, "a.parquet", "temp")
	resp := doUpload(t, server, token, uploadURL)
	resp.Body.Close()

	after := statusAvailable(t, server, "temp")
	if after >= before {
		t.Errorf("available_mb did not shrink: %v -> %v", before, after)
	}
}

func statusAvailable(t *testing.T, server *httptest.Server, tier string) float64 {
	t.Helper()
	resp, err := http.Get(server.URL + "/api/v1/status?tier=" + tier)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload struct {
		AvailableMB float64 `json:"available_mb"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	return payload.AvailableMB
}
