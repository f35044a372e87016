package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/consult-payments/internal/domain"
)

const (
	testMerchantID = "PGTESTPAYUAT"
	testSaltKey    = "099eb0cd-02cf-4e2a-8aca-3e6c6aff0399"
)

func newTestClient(t *testing.T, serverURL string) *PhonePeClient {
	t.Helper()

	client, err := NewPhonePeClient(PhonePeConfig{
		BaseURL:    serverURL + "/apis/pg-sandbox",
		MerchantID: testMerchantID,
		SaltKey:    testSaltKey,
		SaltIndex:  1,
		Timeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewPhonePeClient() error = %v", err)
	}
	return client
}

func expectedChecksum(input string) string {
	sum := sha256.Sum256([]byte(input + testSaltKey))
	return hex.EncodeToString(sum[:]) + "###1"
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestPhonePeClientInitiateSuccess(t *testing.T) {
	t.Parallel()

	var gotPayload payPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/apis/pg-sandbox/pg/v1/pay" {
			t.Errorf("path = %s, want /apis/pg-sandbox/pg/v1/pay", r.URL.Path)
		}

		var body signedRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if got, want := r.Header.Get("X-VERIFY"), expectedChecksum(body.Request+"/pg/v1/pay"); got != want {
			t.Errorf("X-VERIFY = %q, want %q", got, want)
		}
		raw, err := base64.StdEncoding.DecodeString(body.Request)
		if err != nil {
			t.Errorf("decode base64 payload: %v", err)
		}
		if err := json.Unmarshal(raw, &gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}

		writeJSON(w, http.StatusOK, `{
			"success": true,
			"code": "PAYMENT_INITIATED",
			"data": {
				"merchantTransactionId": "ord-1",
				"instrumentResponse": {"type": "PAY_PAGE", "redirectInfo": {"url": "https://pay.example/page/ord-1", "method": "GET"}}
			}
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	session, err := client.Initiate(context.Background(), InitiateRequest{
		OrderID:     "ord-1",
		Amount:      50000,
		PayerID:     "patient-1",
		PayeeID:     "derm-1",
		RedirectURL: "https://api.example/v1/payments/redirect-landing?orderId=ord-1",
		CallbackURL: "https://api.example/v1/payments/webhook",
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if session.RedirectURL != "https://pay.example/page/ord-1" {
		t.Fatalf("RedirectURL = %q", session.RedirectURL)
	}
	if session.OrderID != "ord-1" || session.GatewayOrderID != "ord-1" {
		t.Fatalf("session = %+v", session)
	}

	if gotPayload.MerchantID != testMerchantID {
		t.Fatalf("merchantId = %q, want %q", gotPayload.MerchantID, testMerchantID)
	}
	if gotPayload.MerchantTransactionID != "ord-1" || gotPayload.MerchantUserID != "patient-1" {
		t.Fatalf("payload identifiers = %+v", gotPayload)
	}
	if gotPayload.Amount != 50000 {
		t.Fatalf("amount = %d, want 50000", gotPayload.Amount)
	}
	if gotPayload.PaymentInstrument.Type != "PAY_PAGE" {
		t.Fatalf("paymentInstrument.type = %q", gotPayload.PaymentInstrument.Type)
	}
}

func TestPhonePeClientInitiateErrorClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		statusCode int
		body       string
		wantErr    error
		transient  bool
	}{
		{
			name:       "server error is unavailable",
			statusCode: http.StatusInternalServerError,
			body:       `oops`,
			wantErr:    domain.ErrGatewayUnavailable,
			transient:  true,
		},
		{
			name:       "too many requests is unavailable",
			statusCode: http.StatusTooManyRequests,
			body:       `{"success":false,"code":"TOO_MANY_REQUESTS","message":"slow down"}`,
			wantErr:    domain.ErrGatewayUnavailable,
			transient:  true,
		},
		{
			name:       "bad request is rejected",
			statusCode: http.StatusBadRequest,
			body:       `{"success":false,"code":"BAD_REQUEST","message":"invalid amount"}`,
			wantErr:    domain.ErrGatewayRejected,
		},
		{
			name:       "success false is rejected",
			statusCode: http.StatusOK,
			body:       `{"success":false,"code":"KEY_NOT_CONFIGURED","message":"key not configured"}`,
			wantErr:    domain.ErrGatewayRejected,
		},
		{
			name:       "missing redirect is unavailable",
			statusCode: http.StatusOK,
			body:       `{"success":true,"code":"PAYMENT_INITIATED","data":{}}`,
			wantErr:    domain.ErrGatewayUnavailable,
			transient:  true,
		},
		{
			name:       "garbage body is unavailable",
			statusCode: http.StatusOK,
			body:       `<html>`,
			wantErr:    domain.ErrGatewayUnavailable,
			transient:  true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.statusCode, tc.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			_, err := client.Initiate(context.Background(), InitiateRequest{OrderID: "ord-1", Amount: 100, PayerID: "p"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Initiate() error = %v, want %v", err, tc.wantErr)
			}
			if got := IsTransient(err); got != tc.transient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.transient)
			}

			var gatewayErr *GatewayError
			if !errors.As(err, &gatewayErr) {
				t.Fatalf("expected GatewayError, got %T", err)
			}
			if gatewayErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", gatewayErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestPhonePeClientInitiateRejectsIncompleteRequest(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://127.0.0.1:1")
	_, err := client.Initiate(context.Background(), InitiateRequest{OrderID: "ord-1"})
	if !errors.Is(err, domain.ErrGatewayRejected) {
		t.Fatalf("Initiate() error = %v, want ErrGatewayRejected", err)
	}
}

func TestPhonePeClientQueryStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		statusCode int
		body       string
		wantState  domain.GatewayState
	}{
		{
			name:       "completed",
			statusCode: http.StatusOK,
			body:       `{"success":true,"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"ord-9","transactionId":"T123","amount":50000,"state":"COMPLETED"}}`,
			wantState:  domain.GatewayStateSuccess,
		},
		{
			name:       "pending",
			statusCode: http.StatusOK,
			body:       `{"success":true,"code":"PAYMENT_PENDING","data":{"merchantTransactionId":"ord-9","state":"PENDING"}}`,
			wantState:  domain.GatewayStatePending,
		},
		{
			name:       "declined with success false",
			statusCode: http.StatusOK,
			body:       `{"success":false,"code":"PAYMENT_ERROR","data":{"merchantTransactionId":"ord-9","state":"FAILED"}}`,
			wantState:  domain.GatewayStateFailed,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				wantPath := "/pg/v1/status/" + testMerchantID + "/ord-9"
				if r.Method != http.MethodGet {
					t.Errorf("method = %s, want GET", r.Method)
				}
				if r.URL.Path != "/apis/pg-sandbox"+wantPath {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got, want := r.Header.Get("X-VERIFY"), expectedChecksum(wantPath); got != want {
					t.Errorf("X-VERIFY = %q, want %q", got, want)
				}
				if got := r.Header.Get("X-MERCHANT-ID"); got != testMerchantID {
					t.Errorf("X-MERCHANT-ID = %q", got)
				}
				writeJSON(w, tc.statusCode, tc.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			result, err := client.QueryStatus(context.Background(), "ord-9")
			if err != nil {
				t.Fatalf("QueryStatus() error = %v", err)
			}
			if result.State != tc.wantState {
				t.Fatalf("State = %s, want %s", result.State, tc.wantState)
			}
			if result.OrderID != "ord-9" {
				t.Fatalf("OrderID = %q", result.OrderID)
			}
		})
	}
}

func TestPhonePeClientQueryStatusFailures(t *testing.T) {
	t.Parallel()

	t.Run("server error is unavailable", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, `upstream down`)
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL).QueryStatus(context.Background(), "ord-1")
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("QueryStatus() error = %v, want ErrGatewayUnavailable", err)
		}
	})

	t.Run("unknown transaction is rejected", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"success":false,"code":"TRANSACTION_NOT_FOUND","message":"no such transaction"}`)
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL).QueryStatus(context.Background(), "ord-1")
		if !errors.Is(err, domain.ErrGatewayRejected) {
			t.Fatalf("QueryStatus() error = %v, want ErrGatewayRejected", err)
		}
	})

	t.Run("undecodable data is unavailable", func(t *testing.T) {
		t.Parallel()

		bodies := []string{
			`{"success":true,"code":"PAYMENT_SUCCESS","data":"not-an-object"}`,
			`{"success":true,"code":"PAYMENT_SUCCESS","data":{"state":42}}`,
			`{"success":true,"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"ord-1"}}`,
		}
		for _, body := range bodies {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, body)
			}))

			result, err := newTestClient(t, server.URL).QueryStatus(context.Background(), "ord-1")
			server.Close()
			if !errors.Is(err, domain.ErrGatewayUnavailable) {
				t.Fatalf("QueryStatus(%s) = %+v, %v, want ErrGatewayUnavailable", body, result, err)
			}
			if !IsTransient(err) {
				t.Fatalf("QueryStatus(%s) error should be transient", body)
			}
		}
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		client, err := NewPhonePeClientWithClient(PhonePeConfig{
			BaseURL:    server.URL,
			MerchantID: testMerchantID,
			SaltKey:    testSaltKey,
		}, resty.New().SetTimeout(50*time.Millisecond))
		if err != nil {
			t.Fatalf("NewPhonePeClientWithClient() error = %v", err)
		}

		_, err = client.QueryStatus(context.Background(), "ord-1")
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("QueryStatus() error = %v, want ErrGatewayUnavailable", err)
		}
		if !IsTransient(err) {
			t.Fatal("timeout should be transient")
		}
	})
}

func TestNewPhonePeClientValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		cfg  PhonePeConfig
	}{
		{name: "missing base url", cfg: PhonePeConfig{MerchantID: "m", SaltKey: "s"}},
		{name: "invalid base url", cfg: PhonePeConfig{BaseURL: "::", MerchantID: "m", SaltKey: "s"}},
		{name: "missing merchant", cfg: PhonePeConfig{BaseURL: "https://x.example", SaltKey: "s"}},
		{name: "missing salt", cfg: PhonePeConfig{BaseURL: "https://x.example", MerchantID: "m"}},
	}

	for _, tc := range testCases {
		if _, err := NewPhonePeClient(tc.cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestGatewayErrorMatching(t *testing.T) {
	t.Parallel()

	transient := &GatewayError{Operation: "status", StatusCode: 503, Transient: true}
	permanent := &GatewayError{Operation: "initiate", StatusCode: 400, Code: "BAD_REQUEST", Message: "bad"}

	if !errors.Is(transient, domain.ErrGatewayUnavailable) || errors.Is(transient, domain.ErrGatewayRejected) {
		t.Fatal("transient error should only match ErrGatewayUnavailable")
	}
	if !errors.Is(permanent, domain.ErrGatewayRejected) || errors.Is(permanent, domain.ErrGatewayUnavailable) {
		t.Fatal("permanent error should only match ErrGatewayRejected")
	}
	if got := permanent.Error(); got != "gateway error: initiate: status=400: code=BAD_REQUEST: bad" {
		t.Fatalf("Error() = %q", got)
	}
	if IsTransient(context.Canceled) {
		t.Fatal("canceled context should not be transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be transient")
	}
}
