package jobdata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("defaults for empty map", func(t *testing.T) {
		res := Decode(DataMap{})
		assert.Equal(t, "GET", res.Method)
		assert.Empty(t, res.URL)
		assert.Empty(t, res.Body)
		assert.Empty(t, res.Props)
		assert.NotNil(t, res.Props)
	})

	t.Run("nil map", func(t *testing.T) {
		res := Decode(nil)
		assert.Equal(t, Fields{Method: "GET", Props: []Property{}}, res)
	})

	t.Run("empty method falls back to default", func(t *testing.T) {
		res := Decode(DataMap{"method": "", "url": "http://example.com"})
		assert.Equal(t, "GET", res.Method)
		assert.Equal(t, "http://example.com", res.URL)
	})

	t.Run("reserved and additional keys", func(t *testing.T) {
		res := Decode(DataMap{"method": "POST", "url": "http://example.com/hook", "body": `{"a":1}`,
			"zeta": "z", "header.X-Key": "v1", "alpha": "a"})
		assert.Equal(t, "POST", res.Method)
		assert.Equal(t, "http://example.com/hook", res.URL)
		assert.Equal(t, `{"a":1}`, res.Body)
		assert.Equal(t, []Property{{Key: "alpha", Value: "a"}, {Key: "header.X-Key", Value: "v1"},
			{Key: "zeta", Value: "z"}}, res.Props)
	})

	t.Run("deterministic order", func(t *testing.T) {
		m := DataMap{"c": "3", "a": "1", "b": "2", "d": "4"}
		first := Decode(m)
		for range 10 {
			assert.Equal(t, first, Decode(m))
		}
	})
}

func TestEncode(t *testing.T) {
	t.Run("reserved keys always set", func(t *testing.T) {
		res := Encode(Fields{})
		assert.Equal(t, DataMap{"method": "", "url": "", "body": ""}, res)
	})

	t.Run("trims keys and skips blanks", func(t *testing.T) {
		res := Encode(Fields{Method: "GET", URL: "http://example", Props: []Property{
			{Key: "  X-Key ", Value: " v1 "}, {Key: "   ", Value: "ignored"}, {Key: "", Value: "ignored"},
		}})
		assert.Equal(t, DataMap{"method": "GET", "url": "http://example", "body": "", "X-Key": " v1 "}, res)
	})

	t.Run("reserved value wins over colliding property", func(t *testing.T) {
		res := Encode(Fields{Method: "GET", URL: "http://a", Props: []Property{{Key: " url ", Value: "http://b"}}})
		assert.Equal(t, "http://a", res["url"])
		assert.Len(t, res, 3)
	})

	t.Run("last duplicate property wins", func(t *testing.T) {
		res := Encode(Fields{Method: "GET", Props: []Property{{Key: "k", Value: "1"}, {Key: "k ", Value: "2"}}})
		assert.Equal(t, "2", res["k"])
	})
}

func TestRoundTrip(t *testing.T) {
	props := [][]Property{
		{},
		{{Key: "X-Key", Value: "v1"}},
		{{Key: "a", Value: ""}, {Key: "header.Authorization", Value: "Bearer x"}, {Key: "timeout", Value: "30"}},
	}
	for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
		for _, url := range []string{"", "http://example", "https://example.com/a?b=c"} {
			for _, body := range []string{"", `{"k":"v"}`, "plain text\nwith lines"} {
				for _, p := range props {
					in := Fields{Method: method, URL: url, Body: body, Props: p}
					assert.Equal(t, in, Decode(Encode(in)), "method=%s url=%s body=%q props=%v", method, url, body, p)
				}
			}
		}
	}
}

func TestFields_Headers(t *testing.T) {
	f := Fields{Props: []Property{{Key: "header.X-Key", Value: "v1"}, {Key: "header.", Value: "skip"},
		{Key: "other", Value: "o"}, {Key: "header.Accept", Value: "application/json"}}}
	assert.Equal(t, map[string]string{"X-Key": "v1", "Accept": "application/json"}, f.Headers())
	assert.Empty(t, Fields{}.Headers())
}

func TestIsReserved(t *testing.T) {
	assert.True(t, IsReserved("method"))
	assert.True(t, IsReserved("url"))
	assert.True(t, IsReserved("body"))
	assert.False(t, IsReserved("URL"))
	assert.False(t, IsReserved("header.url"))
}

func TestDataMap_UnmarshalJSON(t *testing.T) {
	t.Run("coerces non-string values", func(t *testing.T) {
		var m DataMap
		err := json.Unmarshal([]byte(`{"method":"GET","retries":3,"enabled":true,"ratio":1.5,"empty":null,
			"obj":{"a": 1},"arr":[1, "x"]}`), &m)
		require.NoError(t, err)
		assert.Equal(t, DataMap{"method": "GET", "retries": "3", "enabled": "true", "ratio": "1.5", "empty": "",
			"obj": `{"a":1}`, "arr": `[1,"x"]`}, m)
	})

	t.Run("null map", func(t *testing.T) {
		m := DataMap{"a": "b"}
		require.NoError(t, json.Unmarshal([]byte(`null`), &m))
		assert.Nil(t, m)
	})

	t.Run("not an object", func(t *testing.T) {
		var m DataMap
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &m))
	})

	t.Run("inside a struct", func(t *testing.T) {
		var v struct {
			JobDataMap DataMap `json:"jobDataMap"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"jobDataMap":{"url":"http://example","n":42}}`), &v))
		assert.Equal(t, DataMap{"url": "http://example", "n": "42"}, v.JobDataMap)
	})
}
