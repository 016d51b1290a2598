// Package smoke builds the gotodo binary and drives it as a user would.
package smoke

import (
	"bytes"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func moduleRoot(t *testing.T) string {
	t.Helper()

	cmd := exec.Command("go", "env", "GOMOD")
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	gomod := strings.TrimSpace(string(out))
	if gomod == "" || gomod == os.DevNull {
		t.Fatalf("go env GOMOD returned %q; expected path to go.mod", gomod)
	}
	return filepath.Dir(gomod)
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("smoke tests build the binary; skipped with -short")
	}
	outPath := filepath.Join(t.TempDir(), "gotodo")
	cmd := exec.Command("go", "build", "-o", outPath, "./cmd/gotodo")
	cmd.Dir = moduleRoot(t)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		t.Fatalf("build binary: %v\n%s", err, buf.String())
	}
	return outPath
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pick free addr: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func gotodoEnv(home, addr string) []string {
	return append(os.Environ(),
		"GOTODO_HOME="+home,
		"GOTODO_BIND_ADDR="+addr,
		"NO_COLOR=1",
	)
}

// startServer runs the binary in server mode and stops it on cleanup.
func startServer(t *testing.T, bin, home, addr string) (*exec.Cmd, *bytes.Buffer) {
	t.Helper()
	cmd := exec.Command(bin, "serve")
	cmd.Env = gotodoEnv(home, addr)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { stopServer(cmd) })
	return cmd, &out
}

// stopServer interrupts the server and waits for it, killing it after a
// grace period. It reports whether the process exited by itself.
func stopServer(cmd *exec.Cmd) bool {
	if cmd.ProcessState != nil {
		return true
	}
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
		return false
	}
}

func waitForLog(t *testing.T, home, needle string, deadline time.Duration) {
	t.Helper()
	logPath := filepath.Join(home, "logs", "system.jsonl")
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), needle) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	data, _ := os.ReadFile(logPath)
	t.Fatalf("%q not logged within %s\nlogs=%s", needle, deadline, data)
}

func TestSmoke_BuildsBinary(t *testing.T) {
	bin := buildBinary(t)
	fi, err := os.Stat(bin)
	if err != nil {
		t.Fatalf("stat built binary: %v", err)
	}
	if fi.Size() <= 0 {
		t.Fatalf("built binary has unexpected size %d", fi.Size())
	}
}
