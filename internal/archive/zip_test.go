package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/yourusername/easyconvert/internal/store"
)

func TestBuildZipEntries(t *testing.T) {
	artifacts := []store.Artifact{
		{ParentFileID: "job-1", Data: []byte("first page"), PageNumber: 1},
		{ParentFileID: "job-1", Data: []byte("second page"), PageNumber: 2},
		{ParentFileID: "job-1", Data: []byte("third page"), PageNumber: 3},
	}

	data, err := BuildZip(artifacts)
	if err != nil {
		t.Fatalf("BuildZip returned error: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("failed to open zip: %v", err)
	}
	if len(reader.File) != len(artifacts) {
		t.Fatalf("unexpected entry count: %d", len(reader.File))
	}

	want := map[string][]byte{
		"page_1.png": []byte("first page"),
		"page_2.png": []byte("second page"),
		"page_3.png": []byte("third page"),
	}
	for _, f := range reader.File {
		expected, ok := want[f.Name]
		if !ok {
			t.Fatalf("unexpected entry name: %s", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open entry %s: %v", f.Name, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("failed to read entry %s: %v", f.Name, err)
		}
		if !bytes.Equal(got, expected) {
			t.Fatalf("entry %s content mismatch: %q", f.Name, got)
		}
	}
}

func TestBuildZipNoArtifacts(t *testing.T) {
	if _, err := BuildZip(nil); !errors.Is(err, ErrNoArtifacts) {
		t.Fatalf("expected ErrNoArtifacts, got %v", err)
	}
}
