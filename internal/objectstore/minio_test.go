package objectstore

import (
	"testing"

	"github.com/arencloud/snapkeeper/internal/models"
)

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		ssl    bool
		host   string
		secure bool
	}{
		{"minio.local:9000", false, "minio.local:9000", false},
		{"http://minio.local:9000", true, "minio.local:9000", false},
		{"https://s3.amazonaws.com", false, "s3.amazonaws.com", true},
		{"cos.example.com", true, "cos.example.com", true},
	}
	for _, c := range cases {
		h, sec := normalizeEndpoint(c.in, c.ssl)
		if h != c.host || sec != c.secure {
			t.Fatalf("normalizeEndpoint(%q,%v)=%q,%v want %q,%v", c.in, c.ssl, h, sec, c.host, c.secure)
		}
	}
}

func TestForcePathStyle(t *testing.T) {
	for _, p := range []string{models.ProviderMinio, models.ProviderGeneric, models.ProviderSP, models.ProviderCOS, ""} {
		if !forcePathStyle(p) {
			t.Fatalf("%q should be path-style", p)
		}
	}
	if forcePathStyle(models.ProviderAWS) {
		t.Fatal("aws should not force path-style")
	}
}

func TestNewSelectsVariant(t *testing.T) {
	c, err := New(&models.Partner{Provider: models.ProviderGeneric, Endpoint: "http://localhost:9000", Bucket: "b"})
	if err != nil {
		t.Fatalf("generic: %v", err)
	}
	if _, ok := c.(*minioClient); !ok {
		t.Fatalf("generic provider should use minio client, got %T", c)
	}
	c, err = New(&models.Partner{Provider: models.ProviderAWS, Region: "us-east-1", Bucket: "b", Archive: true})
	if err != nil {
		t.Fatalf("aws: %v", err)
	}
	if _, ok := c.(*awsClient); !ok {
		t.Fatalf("aws provider should use aws client, got %T", c)
	}
	if !c.IsArchiveMode() || !c.StagingRequired() {
		t.Fatal("archive partner should report archive mode and staging")
	}
	if _, err := New(&models.Partner{Provider: models.ProviderAzure}); !ErrUnsupportedProvider.Has(err) {
		t.Fatalf("azure should be unsupported, got %v", err)
	}
}
