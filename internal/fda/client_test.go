package fda

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdverseEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drug/event.json", r.URL.Path)
		assert.Equal(t, `patient.drug.openfda.generic_name:"metformin"`, r.URL.Query().Get("search"))
		assert.Equal(t, "patient.reaction.reactionmeddrapt.exact", r.URL.Query().Get("count"))
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"results":[{"term":"NAUSEA","count":5000},{"term":"DIARRHOEA","count":4200}]}`))
	}))
	defer srv.Close()

	client := NewClient("secret", nil, WithBaseURL(srv.URL))
	events, err := client.AdverseEvents(context.Background(), "metformin", 20)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "NAUSEA", events[0].Term)
	assert.Equal(t, 5000, events[0].Count)
}

func TestAdverseEventsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("", nil, WithBaseURL(srv.URL))
	events, err := client.AdverseEvents(context.Background(), "obscuredrug", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)
}

func TestLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drug/label.json", r.URL.Path)
		assert.Equal(t, `openfda.generic_name:"pembrolizumab"`, r.URL.Query().Get("search"))
		_, _ = w.Write([]byte(`{"results":[{
			"indications_and_usage":["Treatment of melanoma.","Second paragraph."],
			"warnings":["Immune-mediated reactions."],
			"dosage_and_administration":["200 mg every 3 weeks."],
			"adverse_reactions":["Fatigue, rash."]
		}]}`))
	}))
	defer srv.Close()

	client := NewClient("", nil, WithBaseURL(srv.URL))
	label, err := client.Label(context.Background(), "pembrolizumab")
	require.NoError(t, err)
	require.NotNil(t, label)
	assert.Equal(t, "pembrolizumab", label.DrugName)
	assert.Equal(t, "Treatment of melanoma.\nSecond paragraph.", label.Indications)
	assert.Equal(t, "Immune-mediated reactions.", label.Warnings)
}

func TestLabelMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("", nil, WithBaseURL(srv.URL))
	label, err := client.Label(context.Background(), "nosuchdrug")
	require.NoError(t, err)
	assert.Nil(t, label)
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient("", nil, WithBaseURL(srv.URL))
	_, err := client.AdverseEvents(context.Background(), "metformin", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
