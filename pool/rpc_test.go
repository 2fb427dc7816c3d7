package pool

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64Result(t *testing.T) {
	tests := []struct {
		raw  string
		want uint64
		ok   bool
	}{
		{`1000`, 1000, true},
		{`"1000"`, 1000, true},
		{`"0x3e8"`, 1000, true},
		{`"0x00000000000003e8"`, 1000, true},
		{`"0X3E8"`, 1000, true},
		{`1e6`, 1000000, true},
		{`1000000.0`, 1000000, true},
		{`1.5`, 0, false},
		{`-4`, 0, false},
		{`1e30`, 0, false},
		{`"0x"`, 0, false},
		{`"lots"`, 0, false},
		{`null`, 0, false},
		{` `, 0, false},
		{`true`, 0, false},
		{``, 0, false},
	}
	for _, tt := range tests {
		got, ok := Response{Result: jsoniter.RawMessage(tt.raw)}.Uint64Result()
		assert.Equal(t, tt.ok, ok, tt.raw)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.raw)
		}
	}
}

func TestBatchSingleObjectResponse(t *testing.T) {
	client := NewClient(testPool, time.Second)
	mt := httpmock.NewMockTransport()
	client.HTTPClient().Transport = mt
	mt.RegisterResponder(http.MethodPost, testPool,
		httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"batch not supported"}}`))

	resps, _, err := client.Batch(context.Background(), []Request{NewRequest("getChallengeNumber", "chal")})
	require.NoError(t, err)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, "rpc error -32600: batch not supported", resps[0].Error.Error())

	_, ok := resps[0].StringID()
	assert.False(t, ok)
}

func TestBatchGarbageResponse(t *testing.T) {
	client := NewClient(testPool, time.Second)
	mt := httpmock.NewMockTransport()
	client.HTTPClient().Transport = mt
	mt.RegisterResponder(http.MethodPost, testPool, httpmock.NewStringResponder(200, `<html>`))

	_, _, err := client.Batch(context.Background(), []Request{NewRequest("getChallengeNumber", "chal")})
	assert.Error(t, err)
}
