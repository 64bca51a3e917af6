package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitbounty/fitbounty/internal/payment"
)

func newLNbitsServer(t *testing.T, handler http.HandlerFunc) *payment.LNbitsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return payment.NewLNbitsClient(srv.URL, "test-key", 0)
}

func TestLNbits_CreateInvoice(t *testing.T) {
	c := newLNbitsServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/payments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["amount"].(float64) != 1000 || body["out"].(bool) || body["expiry"].(float64) != 3600 {
			t.Errorf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"payment_hash":"abc","payment_request":"lnbc10u1xyz"}`))
	})

	inv, err := c.CreateInvoice(context.Background(), 1000, "escrow", time.Hour)
	if err != nil {
		t.Fatalf("CreateInvoice() error: %v", err)
	}
	if inv.PaymentHash != "abc" || inv.PaymentRequest != "lnbc10u1xyz" || inv.AmountSats != 1000 {
		t.Errorf("unexpected invoice %+v", inv)
	}
}

func TestLNbits_CreateInvoice_bolt11Field(t *testing.T) {
	c := newLNbitsServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payment_hash":"abc","bolt11":"lnbc1"}`))
	})
	inv, err := c.CreateInvoice(context.Background(), 1, "m", time.Minute)
	if err != nil || inv.PaymentRequest != "lnbc1" {
		t.Errorf("got %+v, %v", inv, err)
	}
}

func TestLNbits_InvoiceStatus(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		paid, expir bool
	}{
		{"paid", `{"paid":true,"preimage":"pp","details":{"status":"success"}}`, true, false},
		{"pending", `{"paid":false,"details":{"status":"pending","expiry":"2999-01-01T00:00:00Z"}}`, false, false},
		{"status expired", `{"paid":false,"details":{"status":"expired"}}`, false, true},
		{"past unix expiry", `{"paid":false,"details":{"expiry":1000}}`, false, true},
		{"past string expiry", `{"paid":false,"details":{"expiry":"2001-01-01T00:00:00Z"}}`, false, true},
		{"paid beats expiry", `{"paid":true,"details":{"expiry":1000}}`, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newLNbitsServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/payments/hash1" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tc.body))
			})
			st, err := c.InvoiceStatus(context.Background(), "hash1")
			if err != nil {
				t.Fatal(err)
			}
			if st.Paid != tc.paid || st.Expired != tc.expir {
				t.Errorf("got paid=%v expired=%v", st.Paid, st.Expired)
			}
		})
	}
}

func TestLNbits_errors(t *testing.T) {
	c := newLNbitsServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "wallet locked", http.StatusInternalServerError)
	})

	if _, err := c.InvoiceStatus(context.Background(), "missing"); !errors.Is(err, payment.ErrUnknownInvoice) {
		t.Errorf("expected ErrUnknownInvoice, got %v", err)
	}
	_, err := c.Pay(context.Background(), "lnbc1")
	if err == nil || !strings.Contains(err.Error(), "wallet locked") {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestLNbits_Pay(t *testing.T) {
	c := newLNbitsServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["out"] != true || body["bolt11"] != "lnbc500n1" {
			t.Errorf("unexpected pay body %v", body)
		}
		_, _ = w.Write([]byte(`{"payment_hash":"out1"}`))
	})
	hash, err := c.Pay(context.Background(), "lnbc500n1")
	if err != nil || hash != "out1" {
		t.Errorf("Pay() = %q, %v", hash, err)
	}
}
