package clouduri

import "testing"

func TestS3URIParsesBucketAndKey(t *testing.T) {
	bucket, key, err := s3URI("s3://my-bucket/path/to/object.bin")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "my-bucket" || key != "path/to/object.bin" {
		t.Errorf("bucket=%q key=%q, want my-bucket, path/to/object.bin", bucket, key)
	}
}

func TestS3URIRejectsWrongScheme(t *testing.T) {
	if _, _, err := s3URI("https://example.com/x"); err == nil {
		t.Error("expected error for non-s3 scheme")
	}
}

func TestAzblobURIParsesAccountContainerBlob(t *testing.T) {
	accountURL, container, blob, err := azblobURI("azblob://myaccount.blob.core.windows.net/mycontainer/path/to/blob.bin")
	if err != nil {
		t.Fatal(err)
	}
	if accountURL != "https://myaccount.blob.core.windows.net" {
		t.Errorf("accountURL = %q", accountURL)
	}
	if container != "mycontainer" || blob != "path/to/blob.bin" {
		t.Errorf("container=%q blob=%q", container, blob)
	}
}

func TestAzblobURIRejectsMissingBlobPath(t *testing.T) {
	if _, _, _, err := azblobURI("azblob://myaccount.blob.core.windows.net/onlycontainer"); err == nil {
		t.Error("expected error for missing blob path")
	}
}
