package terminal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// twoTokenCommands are launchers whose first argument selects the real
// action, so the remembered signature keeps both tokens.
var twoTokenCommands = map[string]bool{
	"npm":     true,
	"npx":     true,
	"pip":     true,
	"pip3":    true,
	"git":     true,
	"docker":  true,
	"cargo":   true,
	"uv":      true,
	"brew":    true,
	"apt":     true,
	"apt-get": true,
}

// CommandSignature normalizes a command for approval matching: the
// first token, or the first two for package-manager style launchers
// where the subcommand is what actually matters.
func CommandSignature(command string) string {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return strings.TrimSpace(command)
	}
	if len(parts) >= 2 && twoTokenCommands[parts[0]] {
		return parts[0] + " " + parts[1]
	}
	return parts[0]
}

func signatureHash(signature string) string {
	sum := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:8])
}

type approvalEntry struct {
	Hash             string  `json:"hash"`
	CommandSignature string  `json:"command_signature"`
	ApprovedAt       float64 `json:"approved_at"`
}

type approvalsFile struct {
	Approvals []approvalEntry `json:"approvals"`
}

// ApprovalStore persists remembered command approvals as a JSON file.
// Reads go to disk every time so external edits take effect without a
// restart.
type ApprovalStore struct {
	mu   sync.Mutex
	path string
}

func NewApprovalStore(path string) *ApprovalStore {
	return &ApprovalStore{path: path}
}

func (s *ApprovalStore) load() approvalsFile {
	var f approvalsFile
	data, err := os.ReadFile(s.path)
	if err != nil {
		return f
	}
	if err := json.Unmarshal(data, &f); err != nil {
		// Corrupt file acts as empty rather than wedging approvals.
		return approvalsFile{}
	}
	return f
}

func (s *ApprovalStore) save(f approvalsFile) error {
	if f.Approvals == nil {
		f.Approvals = []approvalEntry{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// IsApproved reports whether the command's signature was previously
// remembered.
func (s *ApprovalStore) IsApproved(command string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := signatureHash(CommandSignature(command))
	for _, a := range s.load().Approvals {
		if a.Hash == want {
			return true
		}
	}
	return false
}

// Remember stores the command's signature so future commands with the
// same signature skip the prompt under the on-miss ask level.
func (s *ApprovalStore) Remember(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := CommandSignature(command)
	hash := signatureHash(sig)

	f := s.load()
	for _, a := range f.Approvals {
		if a.Hash == hash {
			return nil
		}
	}
	f.Approvals = append(f.Approvals, approvalEntry{
		Hash:             hash,
		CommandSignature: sig,
		ApprovedAt:       float64(time.Now().UnixNano()) / float64(time.Second),
	})
	return s.save(f)
}

// Signatures returns the remembered signatures for display.
func (s *ApprovalStore) Signatures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.load()
	sigs := make([]string, 0, len(f.Approvals))
	for _, a := range f.Approvals {
		sigs = append(sigs, a.CommandSignature)
	}
	return sigs
}

// Count returns the number of remembered approvals.
func (s *ApprovalStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.load().Approvals)
}

// Clear forgets every remembered approval.
func (s *ApprovalStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(approvalsFile{})
}
