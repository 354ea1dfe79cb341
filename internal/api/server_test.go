package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/papercast/internal/config"
	"github.com/loqalabs/papercast/internal/docstore"
	"github.com/loqalabs/papercast/internal/ingest"
	"github.com/loqalabs/papercast/internal/pdftext"
	"github.com/loqalabs/papercast/internal/podcast"
	"github.com/loqalabs/papercast/internal/summarizer"
	"github.com/loqalabs/papercast/internal/upstream"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeIngester struct {
	store    *docstore.Store
	err      error
	uploads  []ingest.Upload
	contents []string
}

func (f *fakeIngester) Ingest(ctx context.Context, up ingest.Upload) (ingest.Result, error) {
	data, _ := os.ReadFile(up.Path)
	f.uploads = append(f.uploads, up)
	f.contents = append(f.contents, string(data))
	_ = os.Remove(up.Path)
	if f.err != nil {
		return ingest.Result{}, f.err
	}
	doc, err := f.store.InsertDocument(ctx, up.Filename, string(data), "summary of "+up.Filename)
	if err != nil {
		return ingest.Result{}, err
	}
	return ingest.Result{Document: doc}, nil
}

type fakeChecker struct{ err error }

func (f fakeChecker) Check(context.Context) error { return f.err }

type fakeSubmitter struct {
	store *docstore.Store
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, documentID int64, _ string) (docstore.Job, error) {
	if f.err != nil {
		return docstore.Job{}, f.err
	}
	return f.store.CreateJob(ctx, fmt.Sprintf("job-%d", documentID), documentID)
}

type harness struct {
	srv       *Server
	store     *docstore.Store
	ingester  *fakeIngester
	submitter *fakeSubmitter
	dir       string
}

func newHarness(t *testing.T, checker Checker) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := docstore.Open(context.Background(), config.StoreConfig{Path: filepath.Join(dir, "docs.db")}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:     store,
		ingester:  &fakeIngester{store: store},
		submitter: &fakeSubmitter{store: store},
		dir:       dir,
	}
	if checker == nil {
		checker = fakeChecker{}
	}
	h.srv = New(Options{
		UploadDir:      filepath.Join(dir, "uploads"),
		MaxUploadBytes: 1 << 20,
		FinalAudioPath: filepath.Join(dir, "audio", "final_podcast.mp3"),
	}, store, h.ingester, h.submitter, checker, newLogger())
	return h
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestUploadDocument(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, uploadRequest(t, "file", "../My Report (final).pdf", []byte("%PDF-1.4 test")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Document.Filename != "My_Report_final.pdf" {
		t.Fatalf("expected sanitized filename, got %q", res.Document.Filename)
	}
	if len(h.ingester.contents) != 1 || h.ingester.contents[0] != "%PDF-1.4 test" {
		t.Fatalf("upload content not handed to ingest: %v", h.ingester.contents)
	}
	if !strings.HasPrefix(h.ingester.uploads[0].Path, filepath.Join(h.dir, "uploads")) {
		t.Fatalf("upload saved outside the upload dir: %s", h.ingester.uploads[0].Path)
	}
}

func TestUploadRejects(t *testing.T) {
	h := newHarness(t, nil)
	cases := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"missing part", uploadRequest(t, "other", "a.pdf", []byte("x")), http.StatusBadRequest},
		{"wrong type", uploadRequest(t, "file", "notes.txt", []byte("x")), http.StatusUnsupportedMediaType},
		{"too large", uploadRequest(t, "file", "big.pdf", bytes.Repeat([]byte("x"), 1<<20+1)), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, tc.req)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
			if decodeError(t, rec) == "" {
				t.Fatal("expected error message")
			}
		})
	}
	if len(h.ingester.uploads) != 0 {
		t.Fatal("rejected uploads must not reach ingest")
	}
}

func TestUploadErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("summarize: %w", upstream.ErrCredentialMissing), http.StatusServiceUnavailable},
		{fmt.Errorf("summarize: %w", &upstream.Error{Service: "groq", StatusCode: 500}), http.StatusBadGateway},
		{fmt.Errorf("%w: groq: dial tcp", upstream.ErrUnreachable), http.StatusBadGateway},
		{fmt.Errorf("extract: %w", pdftext.ErrUnreadable), http.StatusUnprocessableEntity},
		{summarizer.ErrEmptyDocument, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newHarness(t, nil)
		h.ingester.err = tc.err
		rec := h.do(t, uploadRequest(t, "file", "a.pdf", []byte("x")))
		if rec.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
	}
}

func TestDocumentsListAndGet(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	first, _ := h.store.InsertDocument(ctx, "one.pdf", "text", "first")
	second, _ := h.store.InsertDocument(ctx, "two.pdf", "text", "# Heading\n\n**bold** <script>alert(1)</script>")

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var list struct {
		Documents []docstore.Document `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Documents) != 2 || list.Documents[0].ID != second.ID || list.Documents[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list.Documents)
	}

	rec = h.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/documents/%d", first.ID), nil))
	var doc docstore.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil || doc.Summary != "first" {
		t.Fatalf("get: %v %+v", err, doc)
	}

	rec = h.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/documents/%d?format=html", second.ID), nil))
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, "<h1>Heading</h1>") || !strings.Contains(body, "<strong>bold</strong>") {
		t.Fatalf("expected rendered markdown, got %d %s", rec.Code, body)
	}
	if strings.Contains(body, "<script>") {
		t.Fatal("raw html from the summary must not be rendered")
	}

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/999", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPodcastRoutes(t *testing.T) {
	h := newHarness(t, nil)
	doc, _ := h.store.InsertDocument(context.Background(), "one.pdf", "text", "summary")

	rec := h.do(t, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/documents/%d/podcast", doc.ID), nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job docstore.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/podcasts/"+job.ID, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"queued"`) {
		t.Fatalf("job status: %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/documents/%d/podcasts", doc.ID), nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), job.ID) {
		t.Fatalf("job list: %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/podcasts/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	h.submitter.err = podcast.ErrQueueFull
	rec = h.do(t, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/documents/%d/podcast", doc.ID), nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a full queue, got %d", rec.Code)
	}

	h.submitter.err = podcast.ErrClosed
	rec = h.do(t, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/documents/%d/podcast", doc.ID), nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while shutting down, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		ok   bool
		text string
	}{
		{nil, true, "working"},
		{upstream.ErrCredentialMissing, false, "not found"},
		{&upstream.Error{Service: "groq", StatusCode: 401}, false, "validation failed"},
	}
	for _, tc := range cases {
		h := newHarness(t, fakeChecker{err: tc.err})
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		var st statusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
			t.Fatal(err)
		}
		if st.OK != tc.ok || !strings.Contains(st.Message, tc.text) {
			t.Fatalf("unexpected status %+v for %v", st, tc.err)
		}
	}
}

func TestFinalPodcast(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/audio/final_podcast", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any podcast, got %d", rec.Code)
	}

	path := filepath.Join(h.dir, "audio", "final_podcast.mp3")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("ID3audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/audio/final_podcast", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ID3audio" {
		t.Fatalf("unexpected audio response %d %q", rec.Code, rec.Body.String())
	}
}

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"My Report (final).pdf": "My_Report_final.pdf",
		"../../etc/passwd.pdf":  "passwd.pdf",
		`C:\Users\x\paper.pdf`:  "paper.pdf",
		"résumé.pdf":            "resume.pdf",
		"...":                   "",
	}
	for in, want := range cases {
		if got := SecureFilename(in); got != want {
			t.Fatalf("SecureFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
