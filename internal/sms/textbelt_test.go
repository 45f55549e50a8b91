package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
)

func TestSend_PostsFormAndParsesResult(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/text", r.URL.Path)
		require.NoError(t, r.ParseForm())
		got = map[string]string{
			"phone":   r.PostForm.Get("phone"),
			"message": r.PostForm.Get("message"),
			"key":     r.PostForm.Get("key"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"textId":"12345","quotaRemaining":40}`))
	}))
	defer srv.Close()

	c := NewTextbeltClient(srv.URL, "k1", "+15550001111", 0)
	res, err := c.Send(context.Background(), "It's sunny", "")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "12345", res.TextID)
	assert.Equal(t, 40, res.QuotaRemaining)
	assert.Equal(t, map[string]string{"phone": "+15550001111", "message": "It's sunny", "key": "k1"}, got)
}

func TestSend_ExplicitNumberWins(t *testing.T) {
	var phone string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		phone = r.PostForm.Get("phone")
		_, _ = w.Write([]byte(`{"success":true,"textId":"1","quotaRemaining":1}`))
	}))
	defer srv.Close()

	c := NewTextbeltClient(srv.URL, "", "+1default", 0)
	_, err := c.Send(context.Background(), "hi", "+1other")
	require.NoError(t, err)
	assert.Equal(t, "+1other", phone)
}

func TestSend_ProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"Out of quota","quotaRemaining":0}`))
	}))
	defer srv.Close()

	c := NewTextbeltClient(srv.URL, "k", "+1", 0)
	res, err := c.Send(context.Background(), "hi", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDelivery))
	assert.Contains(t, err.Error(), "Out of quota")
	assert.False(t, res.Success)
}

func TestSend_NonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	c := NewTextbeltClient(srv.URL, "k", "+1", 0)
	_, err := c.Send(context.Background(), "hi", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDelivery))
}

func TestSend_NoNumberConfigured(t *testing.T) {
	c := NewTextbeltClient("http://127.0.0.1:1", "k", "", 0)
	_, err := c.Send(context.Background(), "hi", "")
	assert.True(t, errors.Is(err, common.ErrDelivery))

	_, err = DryRun{}.Send(context.Background(), "hi", "")
	assert.True(t, errors.Is(err, common.ErrDelivery))
}

func TestDryRun_Succeeds(t *testing.T) {
	res, err := DryRun{DefaultNumber: "+1"}.Send(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
}
