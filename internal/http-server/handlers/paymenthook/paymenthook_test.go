package paymenthook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"clanity/entity"
)

type fakeCore struct {
	signatureOk bool
	webhookErr  error
	received    []byte
}

func (f *fakeCore) PaymentVerifySignature(_ []byte, _ string, _ time.Duration) bool {
	return f.signatureOk
}

func (f *fakeCore) PaymentWebhook(_ context.Context, payload []byte) error {
	f.received = payload
	return f.webhookErr
}

func post(handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventAccepted(t *testing.T) {
	core := &fakeCore{signatureOk: true}
	rec := post(Event(testLogger(), core), `{"type":"checkout.session.completed"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"type":"checkout.session.completed"}`, string(core.received))
}

func TestEventBadSignature(t *testing.T) {
	core := &fakeCore{signatureOk: false}
	rec := post(Event(testLogger(), core), `{}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, core.received)
}

func TestEventMalformedPayload(t *testing.T) {
	core := &fakeCore{signatureOk: true, webhookErr: entity.ErrMalformedWebhook}
	rec := post(Event(testLogger(), core), `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventAcknowledgedDespiteReconcileFailure(t *testing.T) {
	core := &fakeCore{signatureOk: true, webhookErr: errors.New("db down")}
	rec := post(Event(testLogger(), core), `{"type":"checkout.session.completed"}`)

	// the provider must not retry; the poll path recovers later
	assert.Equal(t, http.StatusOK, rec.Code)
}
