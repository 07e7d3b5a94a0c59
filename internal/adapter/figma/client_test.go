package figma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLHelpers(t *testing.T) {
	assert.True(t, IsFigmaURL("https://www.figma.com/proto/AbC123/Checkout?node-id=1"))
	assert.True(t, IsFigmaURL("https://figma.com/design/XyZ9/App"))
	assert.False(t, IsFigmaURL("https://shop.example/figma.com/proto/abc"))

	assert.Equal(t, "AbC123", FileKey("https://www.figma.com/proto/AbC123/Checkout"))
	assert.Equal(t, "", FileKey("https://shop.example"))
}

func TestFetchMetadataWithoutToken(t *testing.T) {
	md, err := NewClient("").FetchMetadata(context.Background(), "AbC123")
	require.NoError(t, err)
	assert.True(t, md.Public)
	assert.False(t, md.MetadataAvailable)
	assert.Equal(t, "AbC123", md.FileKey)
}

func TestFetchMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files/AbC123", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("X-Figma-Token"))
		_, _ = w.Write([]byte(`{
			"name": "Checkout flow",
			"version": "42",
			"document": {"id": "0:0", "type": "DOCUMENT", "children": [
				{"id": "1:1", "type": "CANVAS", "name": "Page", "children": [
					{"id": "2:1", "type": "COMPONENT", "name": "Button/Primary", "description": "CTA"}
				]}
			]},
			"styles": {"S:1": {"name": "Brand/Blue", "styleType": "FILL"}}
		}`))
	}))
	defer srv.Close()

	md, err := NewClient("tok").WithBaseURL(srv.URL).FetchMetadata(context.Background(), "AbC123")
	require.NoError(t, err)
	assert.True(t, md.MetadataAvailable)
	assert.Equal(t, "Checkout flow", md.Name)
	require.Len(t, md.Components, 1)
	assert.Equal(t, "Button/Primary", md.Components[0].Name)
	require.Len(t, md.Styles, 1)
	assert.Equal(t, "S:1", md.Styles[0].ID)
	require.NotNil(t, md.Document)
	assert.Len(t, md.Document.Children, 1)
}

func TestFetchMetadataForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	md, err := NewClient("bad").WithBaseURL(srv.URL).FetchMetadata(context.Background(), "k")
	require.NoError(t, err)
	assert.Contains(t, md.Error, "invalid")
}
