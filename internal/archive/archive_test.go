package archive

import "testing"

func TestNewWithEmptyBucketReturnsNilClient(t *testing.T) {
	c, err := New("", "", "", "", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil client when bucket is empty, got %+v", c)
	}
}

func TestUploadArtistOnNilClientIsNoOp(t *testing.T) {
	var c *Client
	if err := c.UploadArtist("artist-1", t.TempDir()); err != nil {
		t.Fatalf("expected nil-client UploadArtist to no-op, got %v", err)
	}
}
