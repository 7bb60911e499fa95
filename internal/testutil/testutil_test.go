package testutil

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPHelpers(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprintf(w, `{"method":%q,"path":%q,"body":%q}`, r.Method, r.URL.Path, body)
	})

	rec := Serve(h, http.MethodPost, "/api/test", []byte("hi"))
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
	var got map[string]string
	DecodeJSON(t, rec, &got)
	assert.Equal(t, map[string]string{"method": "POST", "path": "/api/test", "body": "hi"}, got)

	rec = Serve(h, http.MethodGet, "/x", nil)
	DecodeJSON(t, rec, &got)
	assert.Equal(t, "", got["body"])
}

func TestSceneFrame(t *testing.T) {
	t.Parallel()

	s := Scene{
		W: 40, H: 30, Background: 200,
		Discs: []Disc{{X0: 10, Y0: 10, VX: 2, R: 2, Level: 20, To: -1}},
	}

	f0 := s.Frame(0)
	assert.Equal(t, uint8(20), f0.GrayAt(10, 10).Y)
	assert.Equal(t, uint8(200), f0.GrayAt(30, 20).Y)

	f3 := s.Frame(3)
	assert.Equal(t, uint8(20), f3.GrayAt(16, 10).Y)
	assert.Equal(t, uint8(200), f3.GrayAt(10, 10).Y)

	x, y := s.Discs[0].Center(3)
	assert.Equal(t, 16.0, x)
	assert.Equal(t, 10.0, y)
}

func TestSceneVisibilityAndNoise(t *testing.T) {
	t.Parallel()

	s := Scene{
		W: 20, H: 20, Background: 100, Noise: 3, Seed: 42,
		Discs: []Disc{{X0: 10, Y0: 10, R: 2, Level: 0, From: 2, To: 3}},
	}

	frames := s.Frames(5)
	assert.Len(t, frames, 5)
	assert.NotEqual(t, uint8(0), frames[1].GrayAt(10, 10).Y)
	assert.Equal(t, uint8(0), frames[2].GrayAt(10, 10).Y)
	assert.NotEqual(t, uint8(0), frames[4].GrayAt(10, 10).Y)

	// Noise stays within bounds and is reproducible.
	for _, v := range frames[0].Pix {
		assert.InDelta(t, 100, int(v), 3)
	}
	assert.Equal(t, frames[0].Pix, s.Frame(0).Pix)
}
