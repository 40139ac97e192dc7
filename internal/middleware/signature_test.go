package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

var (
	testSecret = []byte("test-shared-secret")
	testLog    = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func nowEpoch() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func TestVerifyTrusted(t *testing.T) {
	body := []byte(`{"message":"hello","threadId":"a1b2c3d4"}`)
	ts := nowEpoch()
	sig := Sign(testSecret, ts, body)

	if got := Verify(testSecret, ts, sig, body); got != TrustTrusted {
		t.Errorf("expected TrustTrusted, got %v", got)
	}
}

func TestVerifyNoSecret(t *testing.T) {
	body := []byte(`{"message":"hello"}`)
	if got := Verify(nil, nowEpoch(), "deadbeef", body); got != TrustUnsigned {
		t.Errorf("expected TrustUnsigned with empty secret, got %v", got)
	}
}

func TestVerifyBodyTamper(t *testing.T) {
	body := []byte(`{"message":"hello"}`)
	ts := nowEpoch()
	sig := Sign(testSecret, ts, body)

	tampered := []byte(`{"message":"hellp"}`)
	if got := Verify(testSecret, ts, sig, tampered); got != TrustUntrusted {
		t.Errorf("expected TrustUntrusted for tampered body, got %v", got)
	}
}

func TestVerifyTimestampWindow(t *testing.T) {
	body := []byte(`{"message":"hello"}`)

	tests := []struct {
		name   string
		offset time.Duration
		want   Trust
	}{
		{"current", 0, TrustTrusted},
		{"within past window", -200 * time.Second, TrustTrusted},
		{"within future window", 200 * time.Second, TrustTrusted},
		{"too old", -400 * time.Second, TrustUntrusted},
		{"too far ahead", 400 * time.Second, TrustUntrusted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := strconv.FormatInt(time.Now().Add(tt.offset).Unix(), 10)
			sig := Sign(testSecret, ts, body)
			if got := Verify(testSecret, ts, sig, body); got != tt.want {
				t.Errorf("offset %v: expected %v, got %v", tt.offset, tt.want, got)
			}
		})
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	body := []byte(`{"message":"hello"}`)
	ts := nowEpoch()
	sig := Sign(testSecret, ts, body)

	tests := []struct {
		name      string
		timestamp string
		signature string
	}{
		{"non-numeric timestamp", "not-a-number", sig},
		{"empty timestamp", "", sig},
		{"non-hex signature", ts, "zzzz"},
		{"empty signature", ts, ""},
		{"truncated signature", ts, sig[:16]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(testSecret, tt.timestamp, tt.signature, body); got != TrustUntrusted {
				t.Errorf("expected TrustUntrusted, got %v", got)
			}
		})
	}
}

func TestCanonicalPayloadFormattingIndependent(t *testing.T) {
	// Key order and whitespace must not affect the signature.
	variants := [][]byte{
		[]byte(`{"message":"hello","threadId":"a1b2c3d4"}`),
		[]byte(`{"threadId":"a1b2c3d4","message":"hello"}`),
		[]byte(`{ "threadId" : "a1b2c3d4",
			"message" : "hello" }`),
	}
	ts := nowEpoch()
	want := Sign(testSecret, ts, variants[0])
	for i, v := range variants[1:] {
		if got := Sign(testSecret, ts, v); got != want {
			t.Errorf("variant %d: signature %q differs from %q", i+1, got, want)
		}
	}
}

func TestCanonicalPayloadNested(t *testing.T) {
	a := []byte(`{"b":{"y":2,"x":1},"a":[3,2,1]}`)
	b := []byte(`{"a":[3,2,1],"b":{"x":1,"y":2}}`)
	if !bytes.Equal(CanonicalPayload(a), CanonicalPayload(b)) {
		t.Errorf("nested canonical forms differ: %s vs %s", CanonicalPayload(a), CanonicalPayload(b))
	}
}

func TestCanonicalPayloadNonJSON(t *testing.T) {
	raw := []byte("fix the flaky test in ci")
	if got := CanonicalPayload(raw); !bytes.Equal(got, raw) {
		t.Errorf("non-JSON body changed by canonicalization: %q", got)
	}
}

func signedRequest(t *testing.T, secret []byte, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(body))
	ts := nowEpoch()
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(secret, ts, body))
	return req
}

func TestRequireSignatureAccepts(t *testing.T) {
	var seen []byte
	handler := RequireSignature(testSecret, testLog)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))

	body := []byte(`{"message":"hello"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, testSecret, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(seen, body) {
		t.Errorf("handler saw body %q, want %q", seen, body)
	}
}

func TestRequireSignatureRejectsTamper(t *testing.T) {
	handler := RequireSignature(testSecret, testLog)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	body := []byte(`{"message":"hello"}`)
	req := signedRequest(t, testSecret, body)
	// Flip one byte after signing.
	req.Body = io.NopCloser(bytes.NewReader([]byte(`{"message":"hellO"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp.OK || resp.Error == "" {
		t.Errorf("expected ok=false with error, got %+v", resp)
	}
}

func TestRequireSignatureMissingHeaders(t *testing.T) {
	handler := RequireSignature(testSecret, testLog)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for _, drop := range []string{HeaderTimestamp, HeaderSignature} {
		req := signedRequest(t, testSecret, []byte(`{}`))
		req.Header.Del(drop)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("without %s: expected 401, got %d", drop, rec.Code)
		}
	}
}

func TestRequireSignatureUnsignedMode(t *testing.T) {
	handler := RequireSignature(nil, testLog)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "ok")
		}))

	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader([]byte(`{"message":"hi"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected unsigned pass-through, got %d", rec.Code)
	}
}
