package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/internal/export/models"
	"dsrengine/pkg/domain"
)

func samplePackage() *models.Package {
	return &models.Package{
		RequestID:   domain.NewRequestID(),
		SubjectID:   "u1",
		GeneratedAt: time.Date(2026, 5, 1, 9, 0, 0, 123456789, time.UTC),
		Items: []models.PackageItem{
			{Module: "mail", ItemID: "m1", Kind: "message", Priority: true, Content: []byte("hello, \"world\"\n<tag>")},
			{Module: "files", ItemID: "f1", Kind: "bin", Content: []byte{0x00, 0xFF, 0x10}},
			{Module: "files", ItemID: "f2", Kind: "empty", Content: []byte{}},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []models.Format{models.FormatJSON, models.FormatCSV, models.FormatXML} {
		t.Run(string(format), func(t *testing.T) {
			pkg := samplePackage()
			data, err := Encode(format, pkg)
			require.NoError(t, err)

			got, err := Decode(format, data)
			require.NoError(t, err)
			assert.Equal(t, pkg.RequestID, got.RequestID)
			assert.Equal(t, pkg.SubjectID, got.SubjectID)
			assert.True(t, pkg.GeneratedAt.Equal(got.GeneratedAt))
			require.Len(t, got.Items, len(pkg.Items))
			for i := range pkg.Items {
				assert.Equal(t, pkg.Items[i].ItemID, got.Items[i].ItemID)
				assert.Equal(t, pkg.Items[i].Priority, got.Items[i].Priority)
				assert.Equal(t, string(pkg.Items[i].Content), string(got.Items[i].Content))
			}
		})
	}
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := Encode("YAML", samplePackage())
	assert.Error(t, err)
	_, err = Decode("YAML", nil)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, ok := models.ParseFormat("csv")
	assert.True(t, ok)
	assert.Equal(t, models.FormatCSV, f)
	f, ok = models.ParseFormat("")
	assert.True(t, ok)
	assert.Equal(t, models.FormatJSON, f)
	_, ok = models.ParseFormat("pdf")
	assert.False(t, ok)
}
