package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/perfharness/loaddriver/internal/types"
)

func baseJob() *types.JobSpec {
	return &types.JobSpec{
		ID:          "job-1",
		URL:         "http://10.0.0.1:5000/plaintext",
		Method:      "GET",
		Connections: 256,
		Threads:     32,
		Duration:    15,
		Timeout:     2,
	}
}

func TestBuild_FixedFlags(t *testing.T) {
	b := NewBuilder(DefaultConfig(), nil)

	inv, err := b.Build(baseJob())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if inv.Path != "wrk" {
		t.Errorf("expected tool wrk, got %q", inv.Path)
	}

	got := strings.Join(inv.Args, " ")
	want := "-c 256 -t 32 -d 15s --timeout 2s --latency http://10.0.0.1:5000/plaintext"
	if got != want {
		t.Errorf("args mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestBuild_HeadersSortedOneTokenEach(t *testing.T) {
	job := baseJob()
	job.Headers = map[string]string{
		"Connection": "keep-alive",
		"Accept":     "text/html",
	}

	b := NewBuilder(DefaultConfig(), nil)
	inv, err := b.Build(job)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got := strings.Join(inv.Args, " ")
	want := `-H Accept: text/html -H Connection: keep-alive`
	if !strings.Contains(got, want) {
		t.Errorf("expected header tokens %q in %q", want, got)
	}
}

func TestBuild_RateProperty(t *testing.T) {
	job := baseJob()
	job.ClientProperties = map[string]string{"rate": "1000"}

	b := NewBuilder(DefaultConfig(), nil)
	inv, err := b.Build(job)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !strings.Contains(strings.Join(inv.Args, " "), "-R 1000") {
		t.Errorf("expected -R 1000 in %v", inv.Args)
	}
}

func TestBuild_EmptyRatePropertyIgnored(t *testing.T) {
	job := baseJob()
	job.ClientProperties = map[string]string{"rate": ""}

	b := NewBuilder(DefaultConfig(), nil)
	inv, err := b.Build(job)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, a := range inv.Args {
		if a == "-R" {
			t.Errorf("empty rate property must not produce a rate flag: %v", inv.Args)
		}
	}
}

func TestBuild_AttachmentsCopiedAndSourceDeleted(t *testing.T) {
	tmp := t.TempDir()
	scripts := filepath.Join(tmp, "scripts")

	src := filepath.Join(tmp, "upload-12345")
	if err := os.WriteFile(src, []byte("-- lua script\n"), 0644); err != nil {
		t.Fatal(err)
	}

	job := baseJob()
	job.Attachments = []types.Attachment{{Filename: "setup.lua", TempPath: src}}

	b := NewBuilder(Config{ScriptsDir: scripts}, nil)
	inv, err := b.Build(job)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	dest := filepath.Join(scripts, "setup.lua")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("script not copied: %v", err)
	}
	if string(data) != "-- lua script\n" {
		t.Errorf("script content mismatch: %q", data)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("temporary source should be deleted, stat err = %v", err)
	}

	got := strings.Join(inv.Args, " ")
	if !strings.Contains(got, "-s "+dest) {
		t.Errorf("expected -s %s in %q", dest, got)
	}
}

func TestBuild_AttachmentCopyIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	scripts := filepath.Join(tmp, "scripts")

	write := func(content string) string {
		src := filepath.Join(tmp, "upload")
		if err := os.WriteFile(src, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		return src
	}

	job := baseJob()
	job.Attachments = []types.Attachment{{Filename: "setup.lua", TempPath: write("v1")}}

	b := NewBuilder(Config{ScriptsDir: scripts}, nil)
	if _, err := b.Build(job); err != nil {
		t.Fatalf("first Build failed: %v", err)
	}

	// Retried build re-copies over the existing destination.
	job.Attachments[0].TempPath = write("v2")
	if _, err := b.Build(job); err != nil {
		t.Fatalf("second Build failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(scripts, "setup.lua"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Errorf("expected overwritten script, got %q", data)
	}
}

func TestBuild_ScriptNameWithPipelineDepth(t *testing.T) {
	job := baseJob()
	job.PipelineDepth = 16
	job.ClientProperties = map[string]string{"ScriptName": "pipeline"}

	b := NewBuilder(DefaultConfig(), nil)
	inv, err := b.Build(job)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got := strings.Join(inv.Args, " ")
	wantSuffix := "-s " + filepath.Join("scripts", "pipeline.lua") + " -- 16"
	if !strings.HasSuffix(got, wantSuffix) {
		t.Errorf("expected args to end with %q, got %q", wantSuffix, got)
	}
}

func TestBuild_ScriptNameWithoutPipelineDepth(t *testing.T) {
	job := baseJob()
	job.ClientProperties = map[string]string{"ScriptName": "pipeline"}

	b := NewBuilder(DefaultConfig(), nil)
	inv, err := b.Build(job)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got := strings.Join(inv.Args, " ")
	if strings.Contains(got, " -- ") {
		t.Errorf("pipeline depth of zero must not be appended: %q", got)
	}
	if !strings.HasSuffix(got, "-s "+filepath.Join("scripts", "pipeline.lua")) {
		t.Errorf("expected script invocation last: %q", got)
	}
}
