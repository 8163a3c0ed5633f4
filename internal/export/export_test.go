package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/expression"
	"github.com/Lllllllleong/hotfolderflow/internal/logging"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/Lllllllleong/hotfolderflow/internal/services"
	"github.com/wneessen/go-mail"
)

func newJob(t *testing.T) *services.Job {
	t.Helper()
	return &services.Job{
		Hotfolder: &models.HotfolderConfig{ID: "invoices", Name: "Invoices"},
		Snapshot: &config.Snapshot{Settings: config.Settings{
			Retry: config.RetrySettings{Attempts: 3, Backoff: time.Millisecond},
			SMTP:  config.SMTPSettings{Host: "smtp.example.com", From: "scanner@example.com"},
		}},
		WorkDir: t.TempDir(),
		Logger:  logging.Discard(),
	}
}

func newDoc(t *testing.T, job *services.Job, content string) *models.Document {
	t.Helper()
	path := filepath.Join(job.WorkDir, "doc1.pdf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return &models.Document{Path: path, Name: "doc1", Fields: models.Fields{}}
}

func newRouter(archival ArchivalConverter, transports ...Transport) *Router {
	return NewRouter(expression.New(nil, logging.Discard()), archival, transports...)
}

func TestFileExportResolvesNameAndNeverOverwrites(t *testing.T) {
	job := newJob(t)
	doc := newDoc(t, job, "%PDF-fake")
	out := t.TempDir()
	r := newRouter(nil, FileTransport{})
	f := models.Fields{"FileName": "doc1", "Invoice": "INV-42", "Customer": "ACME"}
	cfg := &models.ExportConfig{
		ID: "archive", Method: models.MethodFile, Format: models.FormatDocument,
		Path: filepath.Join(out, "<Customer>"), Filename: "<FileName>_<Invoice>",
	}

	first := r.Export(context.Background(), job, doc, f, cfg)
	second := r.Export(context.Background(), job, doc, f, cfg)
	if !first.OK() || !second.OK() {
		t.Fatalf("exports failed: %+v %+v", first, second)
	}
	want := []string{
		filepath.Join(out, "ACME", "doc1_INV-42.pdf"),
		filepath.Join(out, "ACME", "doc1_INV-42_1.pdf"),
	}
	if first.Destination != want[0] || second.Destination != want[1] {
		t.Fatalf("destinations = %q, %q; want %q", first.Destination, second.Destination, want)
	}
	for _, p := range want {
		data, err := os.ReadFile(p)
		if err != nil || string(data) != "%PDF-fake" {
			t.Errorf("%s = %q, %v", p, data, err)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(out, "ACME"))
	if len(entries) != 2 {
		t.Errorf("destination holds %d entries, want no leftovers", len(entries))
	}
	if _, err := os.Stat(doc.Path); err != nil {
		t.Errorf("source must stay for other exports: %v", err)
	}
}

func TestFileExportKeepsUnresolvedTokens(t *testing.T) {
	job := newJob(t)
	doc := newDoc(t, job, "x")
	out := t.TempDir()
	r := newRouter(nil, FileTransport{})
	cfg := &models.ExportConfig{ID: "a", Method: models.MethodFile, Path: out, Filename: "<FileName>_<Missing>"}

	res := r.Export(context.Background(), job, doc, models.Fields{"FileName": "doc1"}, cfg)
	if res.Destination != filepath.Join(out, "doc1_<Missing>.pdf") {
		t.Fatalf("Destination = %q", res.Destination)
	}
}

func TestFileExportWritesSidecar(t *testing.T) {
	job := newJob(t)
	doc := newDoc(t, job, "x")
	job.Sidecar = filepath.Join(job.WorkDir, "doc1.xml")
	if err := os.WriteFile(job.Sidecar, []byte("<Document/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	r := newRouter(nil, FileTransport{})
	cfg := &models.ExportConfig{ID: "a", Method: models.MethodFile, Path: out, Filename: "renamed",
		Params: models.Params{"write_sidecar": "true"}}

	if res := r.Export(context.Background(), job, doc, models.Fields{}, cfg); !res.OK() {
		t.Fatalf("export: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(out, "renamed.xml")); err != nil {
		t.Errorf("sidecar not written: %v", err)
	}
}

type flakyTransport struct {
	method   models.ExportMethod
	failures int
	calls    int
	err      error
}

func (f *flakyTransport) Method() models.ExportMethod { return f.method }

func (f *flakyTransport) Deliver(_ context.Context, d *Delivery) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "fake://" + d.Name, nil
}

func TestExportRetries(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		err        error
		wantStatus string
		wantCalls  int
	}{
		{"succeeds first time", 0, nil, models.ExportSucceeded, 1},
		{"recovers on third attempt", 2, errors.New("connection reset"), models.ExportSucceeded, 3},
		{"gives up after attempts", 5, errors.New("connection reset"), models.ExportFailed, 3},
		{"permanent error is not retried", 5, permanent{errors.New("bad path")}, models.ExportFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(t)
			doc := newDoc(t, job, "x")
			tr := &flakyTransport{method: models.MethodFTP, failures: tt.failures, err: tt.err}
			r := newRouter(nil, tr)
			res := r.Export(context.Background(), job, doc, models.Fields{"FileName": "doc1"},
				&models.ExportConfig{ID: "remote", Method: models.MethodFTP, Filename: "<FileName>"})
			if res.Status != tt.wantStatus || tr.calls != tt.wantCalls || res.Attempts != tt.wantCalls {
				t.Fatalf("status=%s calls=%d attempts=%d, want %s/%d", res.Status, tr.calls, res.Attempts, tt.wantStatus, tt.wantCalls)
			}
			if res.Status == models.ExportFailed && !strings.Contains(res.Error, string(models.KindExport)) {
				t.Errorf("error %q does not carry the export kind", res.Error)
			}
		})
	}
}

func TestOneFailingDestinationDoesNotAffectAnother(t *testing.T) {
	job := newJob(t)
	doc := newDoc(t, job, "x")
	out := t.TempDir()
	broken := &flakyTransport{method: models.MethodFTP, failures: 100, err: errors.New("refused")}
	r := newRouter(nil, broken, FileTransport{})
	f := models.Fields{"FileName": "doc1"}

	results := []models.ExportResult{
		r.Export(context.Background(), job, doc, f, &models.ExportConfig{ID: "ftp", Method: models.MethodFTP}),
		r.Export(context.Background(), job, doc, f, &models.ExportConfig{ID: "disk", Method: models.MethodFile, Path: out}),
	}
	if results[0].Status != models.ExportFailed || results[1].Status != models.ExportSucceeded {
		t.Fatalf("results = %+v", results)
	}
	if _, err := os.Stat(filepath.Join(out, "doc1.pdf")); err != nil {
		t.Errorf("file export missing: %v", err)
	}
}

func TestExportConditionSkips(t *testing.T) {
	job := newJob(t)
	doc := newDoc(t, job, "x")
	tr := &flakyTransport{method: models.MethodFile}
	r := newRouter(nil, tr)
	cfg := &models.ExportConfig{ID: "eu", Method: models.MethodFile, Path: "/x", Condition: `IF(<Region>,"=","EU","true","false")`}

	if res := r.Export(context.Background(), job, doc, models.Fields{"Region": "US"}, cfg); res.Status != models.ExportSkipped {
		t.Fatalf("status = %s, want skipped", res.Status)
	}
	if res := r.Export(context.Background(), job, doc, models.Fields{"Region": "EU"}, cfg); res.Status != models.ExportSucceeded {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if tr.calls != 1 {
		t.Errorf("transport called %d times", tr.calls)
	}
}

func TestExportWithoutTransportFails(t *testing.T) {
	job := newJob(t)
	res := newRouter(nil).Export(context.Background(), job, newDoc(t, job, "x"), models.Fields{},
		&models.ExportConfig{ID: "mail", Method: models.MethodEmail})
	if res.Status != models.ExportFailed || res.Attempts != 0 {
		t.Fatalf("result = %+v", res)
	}
}

type fakeArchival struct{ calls int }

func (f *fakeArchival) Convert(_ context.Context, job *services.Job, doc *models.Document, lang string) (string, error) {
	f.calls++
	out := filepath.Join(job.WorkDir, doc.Name+".archival."+lang+".pdf")
	return out, os.WriteFile(out, []byte("archival"), 0o644)
}

func TestArchivalFormat(t *testing.T) {
	job := newJob(t)
	doc := newDoc(t, job, "plain")
	conv := &fakeArchival{}
	out := t.TempDir()
	r := newRouter(conv, FileTransport{})
	cfg := &models.ExportConfig{ID: "pdfa", Method: models.MethodFile, Format: models.FormatArchival, Path: out,
		Params: models.Params{"language": "eng"}}

	res := r.Export(context.Background(), job, doc, models.Fields{"FileName": "doc1"}, cfg)
	if !res.OK() {
		t.Fatalf("export: %+v", res)
	}
	if data, _ := os.ReadFile(res.Destination); string(data) != "archival" {
		t.Errorf("exported %q, want the converted file", data)
	}

	second := *cfg
	second.ID, second.Path = "pdfa-copy", t.TempDir()
	if res := r.Export(context.Background(), job, doc, models.Fields{"FileName": "doc1"}, &second); !res.OK() || conv.calls != 1 {
		t.Fatalf("second archival export: %+v, conversions = %d", res, conv.calls)
	}
	german := second
	german.ID, german.Params = "pdfa-deu", models.Params{"language": "deu"}
	if r.Export(context.Background(), job, doc, models.Fields{"FileName": "doc1"}, &german); conv.calls != 2 {
		t.Errorf("conversions = %d, want a new one for another language", conv.calls)
	}

	doc.Archival = true
	res = r.Export(context.Background(), job, doc, models.Fields{"FileName": "doc1"}, cfg)
	if data, _ := os.ReadFile(res.Destination); string(data) != "plain" || conv.calls != 2 {
		t.Errorf("archival document converted again: %q calls=%d", data, conv.calls)
	}
}

func TestArchivalFormatWithoutConverterFails(t *testing.T) {
	job := newJob(t)
	r := newRouter(nil, FileTransport{})
	res := r.Export(context.Background(), job, newDoc(t, job, "x"), models.Fields{},
		&models.ExportConfig{ID: "pdfa", Method: models.MethodFile, Format: models.FormatArchival, Path: t.TempDir()})
	if res.Status != models.ExportFailed {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestMetadata(t *testing.T) {
	f := models.Fields{"Invoice": "INV-42", "Customer": "ACME, Inc.", "bad name": "skip"}

	data, ct, err := Metadata(f, "json")
	if err != nil || ct != "application/json" {
		t.Fatalf("json: %v %s", err, ct)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil || !reflect.DeepEqual(got, map[string]string(f)) {
		t.Errorf("json = %s", data)
	}

	data, _, err = Metadata(f, "xml")
	if err != nil {
		t.Fatalf("xml: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, "<Invoice>INV-42</Invoice>") || !strings.Contains(s, "<Customer>ACME, Inc.</Customer>") {
		t.Errorf("xml = %s", s)
	}
	if strings.Contains(s, "skip") {
		t.Errorf("invalid element name exported: %s", s)
	}

	data, _, err = Metadata(f, "csv")
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if want := "Customer,Invoice,bad name\n\"ACME, Inc.\",INV-42,skip\n"; string(data) != want {
		t.Errorf("csv = %q, want %q", data, want)
	}

	if _, _, err := Metadata(f, "yaml"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestMetadataExportUsesFormatExtension(t *testing.T) {
	job := newJob(t)
	out := t.TempDir()
	r := newRouter(nil, FileTransport{})
	cfg := &models.ExportConfig{ID: "meta", Method: models.MethodFile, Format: models.FormatMetadata, Path: out,
		Params: models.Params{"metadata_format": "csv"}}
	res := r.Export(context.Background(), job, newDoc(t, job, "x"), models.Fields{"FileName": "doc1"}, cfg)
	if res.Destination != filepath.Join(out, "doc1.csv") {
		t.Fatalf("Destination = %q", res.Destination)
	}
}

func TestEmailMessage(t *testing.T) {
	job := newJob(t)
	doc := newDoc(t, job, "x")
	job.Sidecar = filepath.Join(job.WorkDir, "doc1.xml")
	os.WriteFile(job.Sidecar, []byte("<Document/>"), 0o644)

	var sent *mail.Msg
	tr := NewEmailTransport()
	tr.send = func(_ context.Context, smtp config.SMTPSettings, msg *mail.Msg) error {
		if smtp.Host != "smtp.example.com" {
			t.Errorf("smtp host = %q", smtp.Host)
		}
		sent = msg
		return nil
	}
	r := newRouter(nil, tr)
	cfg := &models.ExportConfig{ID: "mail", Method: models.MethodEmail, Filename: "<Invoice>",
		Email: &models.EmailConfig{
			Recipient: "ap@example.com; <Owner>", CC: "audit@example.com",
			Subject: "Invoice <Invoice>", Body: "Attached: <FileName>", AttachSidecar: true,
		}}
	f := models.Fields{"FileName": "doc1", "Invoice": "INV-42", "Owner": "owner@example.com"}

	res := r.Export(context.Background(), job, doc, f, cfg)
	if !res.OK() || res.Destination != "mailto:ap@example.com" {
		t.Fatalf("result = %+v", res)
	}
	rcpts, err := sent.GetRecipients()
	if err != nil {
		t.Fatal(err)
	}
	if len(rcpts) != 3 {
		t.Errorf("recipients = %v", rcpts)
	}
	if subj := sent.GetGenHeader(mail.HeaderSubject); len(subj) != 1 || subj[0] != "Invoice INV-42" {
		t.Errorf("subject = %v", subj)
	}
	var names []string
	for _, a := range sent.GetAttachments() {
		names = append(names, a.Name)
	}
	if !reflect.DeepEqual(names, []string{"INV-42.pdf", "doc1.xml"}) {
		t.Errorf("attachments = %v", names)
	}
}

func TestEmailWithoutRecipientIsPermanent(t *testing.T) {
	job := newJob(t)
	tr := NewEmailTransport()
	tr.send = func(context.Context, config.SMTPSettings, *mail.Msg) error { return nil }
	res := newRouter(nil, tr).Export(context.Background(), job, newDoc(t, job, "x"), models.Fields{},
		&models.ExportConfig{ID: "mail", Method: models.MethodEmail, Email: &models.EmailConfig{Recipient: "<Nobody>;"}})
	if res.Status != models.ExportFailed {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestClientOptionsXOAUTH2RequiresTokenURL(t *testing.T) {
	_, err := clientOptions(context.Background(), config.SMTPSettings{Host: "h", Auth: config.AuthXOAUTH2})
	var p permanent
	if !errors.As(err, &p) {
		t.Fatalf("err = %v, want permanent", err)
	}
	opts, err := clientOptions(context.Background(), config.SMTPSettings{Host: "h", TLS: config.TLSImplicit, Port: 2465, Username: "u"})
	if err != nil || len(opts) != 6 {
		t.Fatalf("opts = %d, %v", len(opts), err)
	}
}

type fakeFTP struct {
	existing map[string]bool
	dirs     []string
	stored   map[string]string
	user     string
	quit     bool
}

func (f *fakeFTP) Login(user, _ string) error { f.user = user; return nil }
func (f *fakeFTP) MakeDir(p string) error     { f.dirs = append(f.dirs, p); return nil }
func (f *fakeFTP) Quit() error                { f.quit = true; return nil }

func (f *fakeFTP) FileSize(p string) (int64, error) {
	if f.existing[p] {
		return 1, nil
	}
	return 0, errors.New("550 not found")
}

func (f *fakeFTP) Stor(p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	f.stored[p] = string(data)
	return err
}

func TestFTPDeliver(t *testing.T) {
	job := newJob(t)
	doc := newDoc(t, job, "payload")
	conn := &fakeFTP{existing: map[string]bool{"/in/2024/doc1.pdf": true}, stored: map[string]string{}}
	tr := NewFTPTransport()
	var dialed string
	tr.dial = func(_ context.Context, addr string, _ time.Duration) (ftpConn, error) {
		dialed = addr
		return conn, nil
	}
	cfg := &models.ExportConfig{ID: "ftp", Method: models.MethodFTP, Path: "in/<Year>",
		Params: models.Params{"host": "ftp.example.com", "user": "scan"}}

	res := newRouter(nil, tr).Export(context.Background(), job, doc, models.Fields{"FileName": "doc1", "Year": "2024"}, cfg)
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if dialed != "ftp.example.com:21" || conn.user != "scan" || !conn.quit {
		t.Errorf("dialed=%q user=%q quit=%v", dialed, conn.user, conn.quit)
	}
	if !reflect.DeepEqual(conn.dirs, []string{"/in", "/in/2024"}) {
		t.Errorf("dirs = %v", conn.dirs)
	}
	if conn.stored["/in/2024/doc1_1.pdf"] != "payload" {
		t.Errorf("stored = %v", conn.stored)
	}
	if res.Destination != "ftp://ftp.example.com:21/in/2024/doc1_1.pdf" {
		t.Errorf("Destination = %q", res.Destination)
	}
}

type fakeStore struct {
	taken map[string]bool
	keys  []string
}

func (f *fakeStore) Create(_ context.Context, bucket, key, _, _ string) error {
	if f.taken[bucket+"/"+key] {
		return models.ErrObjectExists
	}
	f.keys = append(f.keys, bucket+"/"+key)
	return nil
}

func TestCloudDeliver(t *testing.T) {
	stores := map[string]*fakeStore{
		"gs": {taken: map[string]bool{"scans/in/doc1.pdf": true}},
		"s3": {taken: map[string]bool{}},
	}
	tr := NewCloudTransport(CloudOptions{})
	tr.open = func(_ context.Context, scheme string) (objectStore, error) {
		s, ok := stores[scheme]
		if !ok {
			return nil, fmt.Errorf("unexpected scheme %s", scheme)
		}
		return s, nil
	}
	r := newRouter(nil, tr)
	f := models.Fields{"FileName": "doc1"}

	tests := []struct{ path, want string }{
		{"gs://scans/in/", "gs://scans/in/doc1_1.pdf"},
		{"s3://bucket/<FileName>", "s3://bucket/doc1/doc1.pdf"},
	}
	for _, tt := range tests {
		job := newJob(t)
		res := r.Export(context.Background(), job, newDoc(t, job, "x"), f,
			&models.ExportConfig{ID: "cloud", Method: models.MethodCloud, Path: tt.path})
		if !res.OK() || res.Destination != tt.want {
			t.Errorf("%s: result = %+v, want %s", tt.path, res, tt.want)
		}
	}

	job := newJob(t)
	res := r.Export(context.Background(), job, newDoc(t, job, "x"), f,
		&models.ExportConfig{ID: "cloud", Method: models.MethodCloud, Path: "azure://x"})
	if res.Status != models.ExportFailed || res.Attempts != 1 {
		t.Errorf("unsupported scheme: %+v", res)
	}
}

func TestRemoteDirs(t *testing.T) {
	if got := remoteDirs("/a/b/c"); !reflect.DeepEqual(got, []string{"/a", "/a/b", "/a/b/c"}) {
		t.Errorf("remoteDirs = %v", got)
	}
	if got := remoteDirs("/"); len(got) != 0 {
		t.Errorf("remoteDirs(/) = %v", got)
	}
}
