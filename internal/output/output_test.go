package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriteJSONSuccess(t *testing.T) {
	var buf bytes.Buffer
	writeJSONSuccess(&buf, map[string]string{"archive": "prod_backup_20260828120000.tar.gz"}, "deployed")

	var env successEnvelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !env.OK {
		t.Error("ok = false, want true")
	}
	if env.Message != "deployed" {
		t.Errorf("message = %q, want %q", env.Message, "deployed")
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data type = %T, want map", env.Data)
	}
	if data["archive"] != "prod_backup_20260828120000.tar.gz" {
		t.Errorf("data.archive = %v", data["archive"])
	}
}

func TestWriteJSONError(t *testing.T) {
	var buf bytes.Buffer
	writeJSONError(&buf, errors.New("mysqldump not found"), ErrPrecondition)

	var env errorEnvelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.OK {
		t.Error("ok = true, want false")
	}
	if env.Error != "mysqldump not found" {
		t.Errorf("error = %q", env.Error)
	}
	if env.Code != ErrPrecondition {
		t.Errorf("code = %q, want %q", env.Code, ErrPrecondition)
	}
}

func TestExitCodeForError(t *testing.T) {
	for _, code := range []ErrorCode{ErrGeneral, ErrPrecondition, ErrStageFailed, ErrNotFound, ErrValidation} {
		if got := ExitCodeForError(code); got != ExitFailure {
			t.Errorf("ExitCodeForError(%s) = %d, want %d", code, got, ExitFailure)
		}
	}
	if got := ExitCodeForError(""); got != ExitSuccess {
		t.Errorf("ExitCodeForError(empty) = %d, want %d", got, ExitSuccess)
	}
}

func TestStatusTimestamped(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var stderr bytes.Buffer
	w := &Writer{
		Stderr: &stderr,
		now:    func() time.Time { return time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC) },
	}
	w.Status("Backing up production to %s", "/backups")

	got := stderr.String()
	if !strings.HasPrefix(got, "[2026-08-28 14:30:00] ") {
		t.Errorf("status line = %q, want timestamp prefix", got)
	}
	if !strings.Contains(got, "Backing up production to /backups") {
		t.Errorf("status line = %q, missing message", got)
	}
}

func TestStatusSuppressedInJSONMode(t *testing.T) {
	var stderr bytes.Buffer
	w := &Writer{JSONMode: true, Stderr: &stderr}
	w.Status("should not appear")
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty", stderr.String())
	}
}

func TestWarnEmittedInQuietMode(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var stderr bytes.Buffer
	w := &Writer{QuietMode: true, Stderr: &stderr}
	w.Warn("preserved table restore failed")
	if !strings.Contains(stderr.String(), "Warning: preserved table restore failed") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestInfoSuppressedInQuietMode(t *testing.T) {
	var stderr bytes.Buffer
	w := &Writer{QuietMode: true, Stderr: &stderr}
	w.Info("noise")
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty", stderr.String())
	}
}
