package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegisterSessionReturnsLastSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/register" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id":"s1","last_chunk_sequence":7}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	last, err := c.RegisterSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("RegisterSession: %v", err)
	}
	if last != 7 {
		t.Fatalf("last sequence: want=7 got=%d", last)
	}
}

func TestUploadChunkSendsMultipartFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/audio/chunk" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("meeting_id"); got != "s1" {
			t.Errorf("meeting_id: want=s1 got=%q", got)
		}
		if got := r.FormValue("chunk_id"); got != "3" {
			t.Errorf("chunk_id: want=3 got=%q", got)
		}
		if got := r.FormValue("host_email"); got != "host@example.com" {
			t.Errorf("host_email: want=host@example.com got=%q", got)
		}
		f, hdr, err := r.FormFile("audio_file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "chunk_3.wav" {
			t.Errorf("filename: want=chunk_3.wav got=%q", hdr.Filename)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	now := time.Now()
	err := c.UploadChunk(context.Background(), ChunkUpload{
		SessionID: "s1",
		Sequence:  3,
		HostEmail: "host@example.com",
		StartedAt: now.Add(-10 * time.Second),
		EndedAt:   now,
		WAV:       []byte("RIFFxxxx"),
	})
	if err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}
}

func TestUploadChunkSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.UploadChunk(context.Background(), ChunkUpload{SessionID: "s1", Sequence: 1})
	if err == nil {
		t.Fatalf("expected error on 500 response")
	}
}

func TestUpdateStatusPatchesMeeting(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	leave := time.Now()
	if err := c.UpdateStatus(context.Background(), "s1", false, &leave); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if gotMethod != "PATCH" || gotPath != "/api/meetings/s1/status" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
}
