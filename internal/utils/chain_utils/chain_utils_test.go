package chainutils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorplex-labs/templar/internal/participants"
)

func TestConvertWeightsAndUidsForEmit(t *testing.T) {
	uids, vals, err := ConvertWeightsAndUidsForEmit([]int{0, 1, 2}, []float64{0.5, 0.25, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, uids)
	assert.Equal(t, []int{U16MAX, 32768}, vals)

	uids, vals, err = ConvertWeightsAndUidsForEmit([]int{0, 1}, []float64{0, 0})
	require.NoError(t, err)
	assert.Empty(t, uids)
	assert.Empty(t, vals)

	_, _, err = ConvertWeightsAndUidsForEmit([]int{0}, []float64{-1})
	assert.Error(t, err)
	_, _, err = ConvertWeightsAndUidsForEmit([]int{0, 1}, []float64{1})
	assert.Error(t, err)
}

func TestWeightsByUID(t *testing.T) {
	records := []participants.Record{{UID: 0, Hotkey: "a"}, {UID: 1, Hotkey: "b"}, {UID: 2, Hotkey: "c"}}
	uids, vals := WeightsByUID(records, map[string]float64{"c": 0.75, "a": 0.25, "gone": 1})
	assert.Equal(t, []int{0, 1, 2}, uids)
	assert.Equal(t, []float64{0.25, 0, 0.75}, vals)
}

func TestResolveEndpointURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("203.0.113.7\n"))
	}))
	defer ts.Close()
	ctx := context.Background()

	url, err := ResolveEndpointURL(ctx, "https://bucket.example.com/", "0.0.0.0", 8080, ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example.com", url)

	url, err = ResolveEndpointURL(ctx, "", "10.0.0.2", 8080, ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:8080", url)

	url, err = ResolveEndpointURL(ctx, "", "0.0.0.0", 9000, ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "http://203.0.113.7:9000", url)
}

func TestGetExternalIP_RejectsGarbage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not an ip"))
	}))
	defer ts.Close()

	_, err := GetExternalIP(context.Background(), ts.URL)
	assert.Error(t, err)
}
