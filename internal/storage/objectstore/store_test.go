package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("s3://datasets/uploads/abc/train.csv")
	if err != nil {
		t.Fatalf("ParseURI()=%v", err)
	}
	if bucket != "datasets" || key != "uploads/abc/train.csv" {
		t.Fatalf("ParseURI()=%q,%q", bucket, key)
	}
	for _, raw := range []string{"/tmp/x.csv", "s3://", "s3://bucket", "s3://bucket/ "} {
		if _, _, err := ParseURI(raw); err == nil {
			t.Fatalf("ParseURI(%q) expected error", raw)
		}
	}
	if got := URI("models", "/runs/r1.model.msgpack"); got != "s3://models/runs/r1.model.msgpack" {
		t.Fatalf("URI()=%q", got)
	}
	if !IsURI(" s3://a/b") || IsURI("file.csv") {
		t.Fatalf("IsURI mismatch")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Put(ctx, "b", "k", strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("Put()=%v", err)
	}
	rc, info, err := s.Get(ctx, "b", "k")
	if err != nil {
		t.Fatalf("Get()=%v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" || info.Size != 5 || info.ContentType != "text/plain" {
		t.Fatalf("Get()=%q,%+v", data, info)
	}
	if err := s.Put(ctx, "b", "k2", strings.NewReader("abc"), 10, ""); err == nil {
		t.Fatalf("expected size mismatch")
	}
	if err := s.Delete(ctx, "b", "k"); err != nil {
		t.Fatalf("Delete()=%v", err)
	}
	if _, err := s.Stat(ctx, "b", "k"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Stat()=%v, want ErrObjectNotFound", err)
	}
}
