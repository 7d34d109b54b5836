package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ormasoftchile/dumper/pkg/usage"
)

func validArgs() Arguments {
	return Arguments{Connector: "postgresql", Output: "out.zip", PoolSize: 2}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Arguments)
		wantErr bool
		detail  string
	}{
		{name: "valid", mutate: func(*Arguments) {}},
		{name: "dry run needs no output", mutate: func(a *Arguments) { a.Output = ""; a.DryRun = true }},
		{name: "missing connector", mutate: func(a *Arguments) { a.Connector = " " }, wantErr: true, detail: "--connector is required"},
		{name: "missing output", mutate: func(a *Arguments) { a.Output = "" }, wantErr: true, detail: "--output is required"},
		{name: "bad scheme", mutate: func(a *Arguments) { a.Output = "gs://b/p" }, wantErr: true, detail: "unsupported output scheme gs://"},
		{name: "s3 scheme", mutate: func(a *Arguments) { a.Output = "s3://b/p" }},
		{name: "pool size", mutate: func(a *Arguments) { a.PoolSize = 0 }, wantErr: true, detail: "--pool-size must be at least 1"},
		{name: "dry run with continue", mutate: func(a *Arguments) { a.DryRun = true; a.Continue = true }, wantErr: true, detail: "--dry-run cannot be combined with --continue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validArgs()
			tt.mutate(&a)
			err := a.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			ue, ok := usage.As(err)
			if !ok {
				t.Fatalf("Validate() error %T is not a usage error", err)
			}
			if diff := cmp.Diff([]string{tt.detail}, ue.Details); diff != "" {
				t.Errorf("details mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	a := validArgs()
	a.Password = "hunter2"
	a.URL = "postgres://admin:s3cret@db:5432/app"
	a.Vars = map[string]string{"k": "v"}

	r := a.Redacted()
	if r.Password != "<REDACTED>" {
		t.Errorf("Password = %q", r.Password)
	}
	if r.URL != "postgres://admin:xxxxx@db:5432/app" {
		t.Errorf("URL = %q", r.URL)
	}
	r.Vars["k"] = "changed"
	if a.Vars["k"] != "v" {
		t.Error("Redacted shares the vars map with the original")
	}
	if diff := cmp.Diff([]string{"hunter2", "s3cret"}, a.Secrets()); diff != "" {
		t.Errorf("Secrets() mismatch (-want +got):\n%s", diff)
	}
}

func TestRedactURL_NoPassword(t *testing.T) {
	for _, raw := range []string{"", "postgres://db/app", "postgres://user@db/app", "::bad"} {
		if got := RedactURL(raw); got != raw {
			t.Errorf("RedactURL(%q) = %q", raw, got)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvConnector, "plan")
	t.Setenv(EnvPoolSize, "8")
	t.Setenv(EnvTimeout, "5s")

	a, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if a.Connector != "plan" || a.PoolSize != 8 || a.HTTPTimeout != 5*time.Second {
		t.Errorf("FromEnv() = %+v", a)
	}

	t.Setenv(EnvPoolSize, "many")
	if _, err := FromEnv(); !usage.Is(err) {
		t.Errorf("FromEnv() error = %v, want usage error", err)
	}
}

func TestObjectConfigFromEnv(t *testing.T) {
	t.Setenv(EnvS3Endpoint, "minio:9000")
	t.Setenv(EnvS3UseSSL, "false")
	c, err := ObjectConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.Endpoint != "minio:9000" || c.UseSSL {
		t.Errorf("ObjectConfigFromEnv() = %+v", c)
	}
	t.Setenv(EnvS3UseSSL, "maybe")
	if _, err := ObjectConfigFromEnv(); err == nil {
		t.Error("expected error for malformed bool")
	}
}
