package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"eightd/internal/engine"
	"eightd/internal/repo"
)

func useWorkspace(t *testing.T) {
	t.Helper()
	viper.Set("workspace", t.TempDir())
	t.Cleanup(func() { viper.Set("workspace", "") })
}

func createTestReport(t *testing.T, title string) string {
	t.Helper()
	var id string
	err := withEngine(context.Background(), func(ctx context.Context, e *engine.Engine) error {
		rep, err := e.CreateReport(ctx, title, "tester")
		id = rep.ID
		return err
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	return id
}

func TestConfirm(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"nope\n", false},
		{"\n", false},
		{"", false},
	}
	for _, c := range cases {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(c.in), &out, "sure?"); got != c.want {
			t.Errorf("confirm(%q) = %v, want %v", c.in, got, c.want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Errorf("prompt missing from output: %q", out.String())
		}
	}
}

func TestReportDeleteAsksFirst(t *testing.T) {
	useWorkspace(t)
	id := createTestReport(t, "keep me")

	del := reportDeleteCmd()
	del.SetArgs([]string{id})
	del.SetIn(strings.NewReader("n\n"))
	del.SetOut(io.Discard)
	del.SetErr(io.Discard)
	if err := del.Execute(); err != nil {
		t.Fatalf("delete declined: %v", err)
	}
	err := withEngine(context.Background(), func(ctx context.Context, e *engine.Engine) error {
		_, err := e.GetReport(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("report gone after declined delete: %v", err)
	}

	forced := reportDeleteCmd()
	forced.SetArgs([]string{id, "--force"})
	forced.SetOut(io.Discard)
	forced.SetErr(io.Discard)
	if err := forced.Execute(); err != nil {
		t.Fatalf("forced delete: %v", err)
	}
	err = withEngine(context.Background(), func(ctx context.Context, e *engine.Engine) error {
		_, err := e.GetReport(ctx, id)
		return err
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not-found after forced delete, got %v", err)
	}
}

func TestReportUseOpensWorkspace(t *testing.T) {
	useWorkspace(t)
	viper.Set("json", true)
	t.Cleanup(func() { viper.Set("json", false) })
	id := createTestReport(t, "use me")

	use := reportUseCmd()
	use.SetArgs([]string{id})
	use.SetOut(io.Discard)
	use.SetErr(io.Discard)
	if err := use.Execute(); err != nil {
		t.Fatalf("use: %v", err)
	}

	missing := reportUseCmd()
	missing.SetArgs([]string{"no-such-report"})
	missing.SetOut(io.Discard)
	missing.SetErr(io.Discard)
	missing.SilenceUsage = true
	if err := missing.Execute(); err == nil {
		t.Fatal("expected error for unknown report")
	}
}
