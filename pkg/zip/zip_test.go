package zip

import (
	stdzip "archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssetsRoundTrip(t *testing.T) {
	archive := ArchiveAssets([]Asset{
		{Filename: "slide-01.png", MIME: "image/png", Data: []byte("png-one")},
		{Filename: "slide-02.png", MIME: "image/png", Data: []byte("png-two")},
		{Filename: "", Data: []byte("ignored")},
		{Filename: "empty.png"},
	})
	if len(archive) == 0 {
		t.Fatal("empty archive")
	}

	zr, err := stdzip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(zr.File))
	}
	want := map[string]string{"slide-01.png": "png-one", "slide-02.png": "png-two"}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		if string(data) != want[f.Name] {
			t.Fatalf("%s = %q, want %q", f.Name, data, want[f.Name])
		}
	}
}
