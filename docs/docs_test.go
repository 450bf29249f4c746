package docs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"
)

func TestSwaggerDoc(t *testing.T) {
	raw, err := swag.ReadDoc()
	require.NoError(t, err)

	var doc struct {
		Swagger  string                     `json:"swagger"`
		BasePath string                     `json:"basePath"`
		Schemes  []string                   `json:"schemes"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, "/api/v1", doc.BasePath)
	assert.Equal(t, []string{"http", "https"}, doc.Schemes)
	for _, path := range []string{
		"/payments/initiate",
		"/payments/verify",
		"/webhooks/paystack",
		"/withdrawals",
		"/admin/withdrawals/{id}/fail",
	} {
		assert.Contains(t, doc.Paths, path)
	}
}
