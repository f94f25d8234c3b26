package cache

import (
	"net/http"
	"testing"
)

func TestRequestKeyNormalization(t *testing.T) {
	cases := []struct {
		path  string
		query string
		want  string
	}{
		{"", "", "/"},
		{"/", "", "/"},
		{"/index.html", "", "/index.html"},
		{"//posts//hello", "", "/posts/hello"},
		{"/a/../b", "", "/b"},
		{"/search", "q=go", "/search?q=go"},
	}
	for _, tc := range cases {
		if got := RequestKey(tc.path, tc.query); got != tc.want {
			t.Fatalf("RequestKey(%q, %q) = %q, want %q", tc.path, tc.query, got, tc.want)
		}
	}
}

func TestSnapshotClone(t *testing.T) {
	orig := &Snapshot{
		Status: 200,
		Header: http.Header{"X-Test": []string{"a"}},
		Body:   []byte("body"),
	}
	clone := orig.Clone()

	clone.Header.Set("X-Test", "b")
	clone.Body[0] = 'B'

	if orig.Header.Get("X-Test") != "a" {
		t.Fatalf("clone must not share header storage")
	}
	if string(orig.Body) != "body" {
		t.Fatalf("clone must not share body storage")
	}
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	orig := &Snapshot{
		Status: 201,
		Header: http.Header{"Content-Type": []string{"text/plain"}, "X-Multi": []string{"1", "2"}},
		Body:   []byte{0x00, 0xff, 0x10},
	}

	data, err := encodeSnapshot(orig)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	got, err := decodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Status != orig.Status {
		t.Fatalf("status mismatch: %d", got.Status)
	}
	if len(got.Header["X-Multi"]) != 2 {
		t.Fatalf("multi-value header lost: %v", got.Header)
	}
	if string(got.Body) != string(orig.Body) {
		t.Fatalf("body mismatch")
	}
}
