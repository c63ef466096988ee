package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sign(key, body string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHookHandler_Signature(t *testing.T) {
	secret = "s3cret"
	defer func() { secret = "" }()

	body := `{"job_id":"abc","status":"published","attempts":1,"succeeded":["twitter"]}`

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{"valid", sign("s3cret", body), http.StatusOK},
		{"wrong key", sign("other", body), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
			req.Header.Set("X-Easypost-Signature", tt.signature)
			rec := httptest.NewRecorder()

			hookHandler(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHookHandler_NoSecretAcceptsUnsigned(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"job_id":"abc","status":"failed"}`))
	rec := httptest.NewRecorder()

	hookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHookHandler_BadBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	hookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
