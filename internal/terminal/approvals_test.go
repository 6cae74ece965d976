package terminal

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestCommandSignature(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"ls -la /tmp", "ls"},
		{"python script.py --flag", "python"},
		{"npm install left-pad", "npm install"},
		{"npm", "npm"},
		{"git push origin main", "git push"},
		{"docker run -it ubuntu bash", "docker run"},
		{"apt-get install -y curl", "apt-get install"},
		{"  spaced   out  ", "spaced"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CommandSignature(tt.command); got != tt.want {
			t.Errorf("CommandSignature(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}

func TestApprovalStoreRememberAndMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	s := NewApprovalStore(path)

	if s.IsApproved("npm install chalk") {
		t.Fatal("empty store approved a command")
	}
	if err := s.Remember("npm install left-pad"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if !s.IsApproved("npm install chalk") {
		t.Error("command with the remembered signature not approved")
	}
	if s.IsApproved("npm run build") {
		t.Error("different signature approved")
	}
	if s.IsApproved("ls") {
		t.Error("unrelated command approved")
	}

	// Approvals survive across handles, i.e. restarts.
	again := NewApprovalStore(path)
	if !again.IsApproved("npm install anything") {
		t.Error("approval lost after reopening the store")
	}
}

func TestApprovalStoreDeduplicates(t *testing.T) {
	s := NewApprovalStore(filepath.Join(t.TempDir(), "approvals.json"))

	if err := s.Remember("git push origin main"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := s.Remember("git push --force"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if got := s.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	if got := s.Signatures(); !reflect.DeepEqual(got, []string{"git push"}) {
		t.Errorf("Signatures() = %v, want [git push]", got)
	}
}

func TestApprovalStoreClear(t *testing.T) {
	s := NewApprovalStore(filepath.Join(t.TempDir(), "approvals.json"))

	if err := s.Remember("cargo build"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := s.Count(); got != 0 {
		t.Errorf("Count() after Clear = %d, want 0", got)
	}
	if s.IsApproved("cargo build") {
		t.Error("cleared approval still matches")
	}
}

func TestApprovalStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewApprovalStore(path)

	if s.IsApproved("ls") {
		t.Error("corrupt store approved a command")
	}
	if err := s.Remember("ls -la"); err != nil {
		t.Fatalf("Remember after corruption: %v", err)
	}
	if !s.IsApproved("ls") {
		t.Error("store did not recover from corruption")
	}
}
