package lockfile

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := os.Stat(l.Path()); err != nil {
		t.Fatalf("lockfile missing: %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatal("lockfile must be removed on release")
	}
}

func TestSecondAcquireFails(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire() error = %v, want ErrLocked", err)
	}
}

func TestStaleLockFromDeadProcess(t *testing.T) {
	dir := t.TempDir()

	content := fmt.Sprintf("%d\n%s\n", 1<<30, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(dir+"/personachat.lock", []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Acquire(dir)
	if err != nil {
		t.Fatalf("a dead owner's lock must be stolen, got %v", err)
	}
	got.Release()
}

func TestExpiredLockIsStolen(t *testing.T) {
	dir := t.TempDir()

	old := time.Now().Add(-2 * time.Hour).Format(time.RFC3339)
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), old)
	if err := os.WriteFile(dir+"/personachat.lock", []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("an expired lock must be stolen, got %v", err)
	}
	l.Release()
}

func TestMalformedLockIsStolen(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/personachat.lock", []byte("not a pid"), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("a malformed lock must be stolen, got %v", err)
	}
	l.Release()
}
