package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fleetd/internal/model"
)

func TestOptionalIDTriState(t *testing.T) {
	var body struct {
		Pin OptionalID `json:"pin"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{}`), &body))
	assert.False(t, body.Pin.Patch().Present(), "absent field leaves the pin alone")
	assert.False(t, body.Pin.NullID().Valid)

	body.Pin = OptionalID{}
	require.NoError(t, json.Unmarshal([]byte(`{"pin": null}`), &body))
	assert.True(t, body.Pin.Patch().Null(), "explicit null unpins")
	assert.False(t, body.Pin.NullID().Valid)

	body.Pin = OptionalID{}
	require.NoError(t, json.Unmarshal([]byte(`{"pin": 5}`), &body))
	id, ok := body.Pin.Patch().ID()
	require.True(t, ok)
	assert.Equal(t, int64(5), id)
	assert.Equal(t, model.Ref(5), body.Pin.NullID())
}

func TestOptionalIDRejectsNonNumeric(t *testing.T) {
	var body struct {
		Pin OptionalID `json:"pin"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"pin": "five"}`), &body))
}

func TestActorHeaderParsing(t *testing.T) {
	tests := []struct {
		header string
		want   model.Actor
	}{
		{"", model.Actor{}},
		{"root", model.RootActor},
		{"7", model.Actor{ID: 7}},
		{"0", model.Actor{}},
		{"-3", model.Actor{}},
		{"abc", model.Actor{}},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v1/applications", nil)
		if tt.header != "" {
			req.Header.Set(ActorHeader, tt.header)
		}
		assert.Equal(t, tt.want, actor(req), "header %q", tt.header)
	}
}
