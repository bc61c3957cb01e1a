package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"userManager/internal/testutil"
	"userManager/models"
	"userManager/repository"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type harness struct {
	fs   afero.Fs
	repo *repository.JSONUserRepository
	out  *bytes.Buffer
	logs *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fsys := afero.NewMemMapFs()
	return &harness{
		fs:   fsys,
		repo: repository.NewJSONUserRepository(fsys, "users.json"),
		out:  &bytes.Buffer{},
	}
}

func (h *harness) run(t *testing.T, input string) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs
	h.out.Reset()
	m := New(h.repo, zap.New(core), strings.NewReader(input), h.out)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestMenu_AddListRemove(t *testing.T) {
	h := newHarness(t)

	h.run(t, "2\nabcd\nabcd@gmail.com\nadmin\n1\n4\n")
	if !strings.Contains(h.out.String(), `User "abcd" added.`) {
		t.Fatalf("missing add confirmation:\n%s", h.out.String())
	}
	if !strings.Contains(h.out.String(), "Username: \"abcd\"\tEmail: \"abcd@gmail.com\"\tRole: \"admin\"") {
		t.Fatalf("missing list line:\n%s", h.out.String())
	}
	if h.logs.FilterMessage("user added").Len() != 1 {
		t.Fatalf("expected one 'user added' log entry")
	}

	users, err := h.repo.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]models.User{models.NewUser("abcd", "abcd@gmail.com", "admin")}, users); diff != "" {
		t.Fatalf("store mismatch (-want +got):\n%s", diff)
	}

	h.run(t, "3\nabcd\n1\n4\n")
	if !strings.Contains(h.out.String(), `User "abcd" removed.`) || !strings.Contains(h.out.String(), "No users found.") {
		t.Fatalf("unexpected output:\n%s", h.out.String())
	}
}

func TestMenu_InvalidOptionReshowsMenu(t *testing.T) {
	h := newHarness(t)
	h.run(t, "abc\n7\n0\n4\n")

	out := h.out.String()
	if n := strings.Count(out, "Invalid option"); n != 3 {
		t.Fatalf("expected 3 invalid option messages, got %d:\n%s", n, out)
	}
	if n := strings.Count(out, "4) Exit"); n != 4 {
		t.Fatalf("expected menu shown 4 times, got %d", n)
	}
	if h.logs.FilterMessage("invalid menu option").Len() != 3 {
		t.Fatalf("expected 3 invalid option log entries")
	}
}

func TestMenu_AddAbortsOnFirstInvalidField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"blank username", "2\n   \n4\n", "username"},
		{"bad email", "2\nabcd\nabcd@@gmail\n4\n", "email"},
		{"blank role", "2\nabcd\nabcd@gmail.com\n \n4\n", "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.run(t, tt.input)
			if !strings.Contains(h.out.String(), "Invalid "+tt.field) {
				t.Fatalf("missing validation message:\n%s", h.out.String())
			}
			entries := h.logs.FilterMessage("validation failed").All()
			if len(entries) != 1 || entries[0].ContextMap()["field"] != tt.field {
				t.Fatalf("unexpected validation logs: %+v", entries)
			}
			if ok, _ := afero.Exists(h.fs, "users.json"); ok {
				t.Fatalf("store written after invalid input")
			}
		})
	}
}

func TestMenu_AddRejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.repo.Add(ctx, models.NewUser("abcd", "abcd@gmail.com", "admin")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := testutil.ReadFile(t, h.fs, "users.json")

	// Menu returns to the top right after the duplicate username.
	h.run(t, "2\nabcd\n4\n")
	if !strings.Contains(h.out.String(), `User "abcd" already exists.`) {
		t.Fatalf("missing duplicate message:\n%s", h.out.String())
	}
	if strings.Contains(h.out.String(), "Email: ") {
		t.Fatalf("email prompted after duplicate username")
	}
	if after := testutil.ReadFile(t, h.fs, "users.json"); after != before {
		t.Fatalf("store changed after duplicate")
	}
}

func TestMenu_RemoveNotFound(t *testing.T) {
	h := newHarness(t)
	h.run(t, "3\nghost\n4\n")
	if !strings.Contains(h.out.String(), `User "ghost" not found.`) {
		t.Fatalf("missing not found message:\n%s", h.out.String())
	}
	entries := h.logs.FilterMessage("user not found").All()
	if len(entries) != 1 || entries[0].ContextMap()["username"] != "ghost" {
		t.Fatalf("unexpected logs: %+v", entries)
	}
}

func TestMenu_CorruptStoreKeepsLoopAlive(t *testing.T) {
	h := newHarness(t)
	testutil.WriteFile(t, h.fs, "users.json", "not json")

	h.run(t, "1\n2\nabcd\n3\nabcd\n4\n")
	if n := strings.Count(h.out.String(), "is corrupt"); n != 3 {
		t.Fatalf("expected 3 corrupt reports, got %d:\n%s", n, h.out.String())
	}
	if h.logs.FilterMessage("corrupt user store").Len() != 3 {
		t.Fatalf("expected 3 corrupt store log entries")
	}
	if h.logs.FilterMessage("exiting").Len() != 1 {
		t.Fatalf("loop did not reach exit")
	}
}

func TestMenu_EOFEndsCleanly(t *testing.T) {
	h := newHarness(t)
	h.run(t, "2\nabcd\n")
	if h.logs.FilterMessage("input closed, exiting").Len() != 1 {
		t.Fatalf("expected clean exit on EOF")
	}
	if ok, _ := afero.Exists(h.fs, "users.json"); ok {
		t.Fatalf("partial add persisted")
	}
}

func TestMenu_CanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(h.repo, nil, strings.NewReader("1\n"), h.out)
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMenu_CancelWhileWaitingForInput(t *testing.T) {
	h := newHarness(t)
	// Input stays open and never delivers a line.
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	m := New(h.repo, nil, pr, h.out)
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run still blocked on input after cancel")
	}
	if ok, _ := afero.Exists(h.fs, "users.json"); ok {
		t.Fatalf("store touched after cancel")
	}
}

func TestMenu_SQLiteBackend(t *testing.T) {
	repo := repository.NewSQLiteUserRepository(testutil.OpenInMemoryDB(t, "clisqlite"))
	var out bytes.Buffer
	m := New(repo, zap.NewNop(), strings.NewReader("2\nabcd\nabcd@gmail.com\nadmin\n2\nabcd\n1\n4\n"), &out)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `User "abcd" already exists.`) || strings.Count(out.String(), "Username: \"abcd\"") != 1 {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
