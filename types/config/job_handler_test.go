package config

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobHandler_RegisterAndExecute(t *testing.T) {
	jh := NewJobHandler()
	var got json.RawMessage
	require.NoError(t, jh.Register("create-claim", func(ctx context.Context, payload json.RawMessage) error {
		got = payload
		return nil
	}))

	assert.True(t, jh.Exists("create-claim"))
	assert.False(t, jh.Exists("delete-server"))

	require.NoError(t, jh.Execute(context.Background(), "create-claim", json.RawMessage(`{"claim_id":"c1"}`)))
	assert.JSONEq(t, `{"claim_id":"c1"}`, string(got))
	assert.Equal(t, []string{"create-claim"}, jh.List())
}

func TestJobHandler_DuplicateAndMissing(t *testing.T) {
	jh := NewJobHandler()
	h := func(ctx context.Context, payload json.RawMessage) error { return errors.New("boom") }

	require.NoError(t, jh.Register("a", h))
	assert.Error(t, jh.Register("a", h))
	assert.Error(t, jh.Register("", h))

	assert.EqualError(t, jh.Execute(context.Background(), "a", nil), "boom")
	assert.Error(t, jh.Execute(context.Background(), "b", nil))
}
