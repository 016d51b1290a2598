package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/basket/gotodo/internal/doctor"
)

func TestRunDoctorCommand_TextOutput(t *testing.T) {
	setTestConfig(t, "127.0.0.1:0")
	out, _ := captureOutput(t)

	if code := runDoctorCommand(context.Background(), nil); code != 0 {
		t.Fatalf("got exit code %d, want 0:\n%s", code, out.String())
	}
	for _, want := range []string{"gotodo doctor report", "Database", "Bind Address"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in report:\n%s", want, out.String())
		}
	}
}

func TestRunDoctorCommand_JSONOutput(t *testing.T) {
	setTestConfig(t, "127.0.0.1:0")
	out, _ := captureOutput(t)

	if code := runDoctorCommand(context.Background(), []string{"-json"}); code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
	var diag doctor.Diagnosis
	if err := json.Unmarshal(out.Bytes(), &diag); err != nil {
		t.Fatalf("decode diagnosis: %v\n%s", err, out.String())
	}
	if diag.System.Version != Version || len(diag.Results) == 0 {
		t.Fatalf("unexpected diagnosis: %+v", diag)
	}
}

func TestRunDoctorCommand_BadConfig(t *testing.T) {
	home := setTestConfig(t, "127.0.0.1:0")
	writeConfig(t, home, "log_level: loud\n")
	_, errOut := captureOutput(t)

	if code := runDoctorCommand(context.Background(), nil); code != 1 {
		t.Fatalf("got exit code %d, want 1 for invalid config", code)
	}
	if !strings.Contains(errOut.String(), "log_level") {
		t.Fatalf("expected config error on stderr, got %q", errOut.String())
	}
}

func TestRunDoctorCommand_UnknownFlag(t *testing.T) {
	captureOutput(t)
	if code := runDoctorCommand(context.Background(), []string{"-verbose"}); code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}
