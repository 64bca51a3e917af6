package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/transport"
)

func TestBridgePublisher_Publish(t *testing.T) {
	var gotSig string
	var got transport.Reply
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(transport.SignatureHeader)
		if !transport.VerifySignature(body, "s3cret", gotSig) {
			t.Errorf("signature did not verify")
		}
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"accepted":3}`))
	}))
	defer srv.Close()

	p := transport.NewBridgePublisher(srv.URL, "s3cret", zap.NewNop())
	n, err := p.Publish(context.Background(), transport.Reply{InReplyTo: "evt1", Recipient: "abc", Text: "hi"})
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if n != 3 {
		t.Errorf("accepted = %d, want 3", n)
	}
	if got.InReplyTo != "evt1" || got.Text != "hi" {
		t.Errorf("bridge received %+v", got)
	}
}

func TestBridgePublisher_retriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var outcomes []bool
	p := transport.NewBridgePublisher(srv.URL, "", zap.NewNop())
	p.SetRetryDelays([]time.Duration{0, time.Millisecond, time.Millisecond})
	p.SetMetricsRecorder(func(ok bool) { outcomes = append(outcomes, ok) })

	_, err := p.Publish(context.Background(), transport.Reply{InReplyTo: "evt1", Text: "hi"})
	if !errors.Is(err, transport.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 || len(outcomes) != 3 {
		t.Errorf("expected 3 attempts, got %d calls / %d outcomes", calls, len(outcomes))
	}
}

func TestBridgePublisher_recoversOnRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"accepted":1}`))
	}))
	defer srv.Close()

	p := transport.NewBridgePublisher(srv.URL, "", zap.NewNop())
	p.SetRetryDelays([]time.Duration{0, time.Millisecond})
	if n, err := p.Publish(context.Background(), transport.Reply{Text: "hi"}); err != nil || n != 1 {
		t.Errorf("Publish() = %d, %v", n, err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"1"}`)
	sig := transport.Sign(body, "k")
	if !transport.VerifySignature(body, "k", sig) {
		t.Error("valid signature rejected")
	}
	if transport.VerifySignature(body, "other", sig) {
		t.Error("signature with wrong key accepted")
	}
	if transport.VerifySignature(body, "k", "deadbeef") {
		t.Error("unprefixed signature accepted")
	}
}

func TestMention_FirstTag(t *testing.T) {
	m := transport.Mention{Tags: [][]string{{"p", "k1"}, {"e", "evt0"}, {"e", "evt1"}, {"x"}}}
	if got := m.FirstTag("e"); got != "evt0" {
		t.Errorf("FirstTag(e) = %q", got)
	}
	if got := m.FirstTag("t"); got != "" {
		t.Errorf("FirstTag(t) = %q", got)
	}
}
