package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func TestPutIsContentAddressed(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	first, err := store.Put(ctx, strings.NewReader("csar-bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sum := sha256.Sum256([]byte("csar-bytes"))
	if first.Hash != hex.EncodeToString(sum[:]) || first.Size != int64(len("csar-bytes")) {
		t.Fatalf("unexpected object %+v", first)
	}
	second, err := store.Put(ctx, strings.NewReader("csar-bytes"))
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if second != first {
		t.Fatalf("expected identical object, got %+v vs %+v", second, first)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single stored file without temp leftovers, got %d", len(entries))
	}

	f, err := store.Open(first.Key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "csar-bytes" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestDeleteAndMissing(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	obj, err := store.Put(context.Background(), strings.NewReader("x"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(obj.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(obj.Key); err != nil {
		t.Fatalf("delete twice: %v", err)
	}
	if ok, err := store.Exists(obj.Key); err != nil || ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	if _, err := store.Open(obj.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Path("../../etc/passwd"); err == nil {
		t.Fatalf("expected invalid key to be rejected")
	}
}

func TestPutHonoursCancellation(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
