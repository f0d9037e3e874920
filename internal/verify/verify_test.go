package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/briefd/internal/config"
)

func TestHybridSearch(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(searchResponse{Documents: []Document{
			{ID: "d1", Content: "passage one", Score: 0.92},
			{ID: "d2", Content: "passage two", Score: 0.71},
		}})
	}))
	defer srv.Close()

	c := NewClient(config.VerifyConfig{RetrievalURL: srv.URL, ClaimCheckURL: srv.URL})
	docs, err := c.HybridSearch(context.Background(), "baltic shipping volumes", []string{"north"}, 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].ID)

	assert.Equal(t, "baltic shipping volumes", got.Query)
	assert.Equal(t, []string{"north"}, got.Zones)
	assert.Equal(t, 5, got.Limit)
}

func TestHybridSearchDefaultLimit(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	c := NewClient(config.VerifyConfig{RetrievalURL: srv.URL})
	_, err := c.HybridSearch(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Limit)
}

func TestHybridSearchUnconfigured(t *testing.T) {
	c := NewClient(config.VerifyConfig{})
	_, err := c.HybridSearch(context.Background(), "q", nil, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestVerifyClaim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "volumes fell 12% in Q2", req.Claim)
		json.NewEncoder(w).Encode(Verification{
			Status: StatusContradicted,
			Score:  0.34,
			Evidence: []Evidence{
				{Source: "port-authority-q2", Excerpt: "volumes rose 3%", Score: 0.88},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(config.VerifyConfig{ClaimCheckURL: srv.URL})
	v, err := c.VerifyClaim(context.Background(), "volumes fell 12% in Q2", []Document{{ID: "d1"}})
	require.NoError(t, err)
	assert.Equal(t, StatusContradicted, v.Status)
	assert.True(t, v.Disputed())
	require.Len(t, v.Evidence, 1)
}

func TestVerifyClaimUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "maybe"})
	}))
	defer srv.Close()

	c := NewClient(config.VerifyConfig{ClaimCheckURL: srv.URL})
	_, err := c.VerifyClaim(context.Background(), "claim", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestServiceErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(config.VerifyConfig{RetrievalURL: srv.URL})
	_, err := c.HybridSearch(context.Background(), "q", nil, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "index rebuilding")
}

func TestDisputed(t *testing.T) {
	assert.False(t, (&Verification{Status: StatusSupported}).Disputed())
	assert.True(t, (&Verification{Status: StatusContradicted}).Disputed())
	assert.True(t, (&Verification{Status: StatusInsufficient}).Disputed())
}
