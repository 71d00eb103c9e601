// Package lifecycle renames e-dossier folders and customer roots at the
// defined transition points of a migration, absorbing transient locks held
// by antivirus or indexers with a short bounded retry.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/migtype"
)

const (
	SuccessSuffix = "_success_robot"
	FailedSuffix  = "_failed_robot"
)

// ErrRenameExhausted is wrapped by PermissionError once the budget is spent.
var ErrRenameExhausted = errors.New("rename retry budget exhausted")

// PermissionError reports a rename that never succeeded within its budget.
type PermissionError struct {
	Old, New string
	Attempts int
	Err      error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("renaming %s to %s failed after %d attempts: %v", filepath.Base(e.Old), filepath.Base(e.New), e.Attempts, e.Err)
}

func (e *PermissionError) Unwrap() []error {
	return []error{ErrRenameExhausted, os.ErrPermission, e.Err}
}

// Manager performs retried renames. Rename and Sleep default to os.Rename
// and time.Sleep and are replaced in tests.
type Manager struct {
	Rename func(oldpath, newpath string) error
	Sleep  func(time.Duration)
	logger *slog.Logger
}

func New(logger *slog.Logger) *Manager {
	return &Manager{Rename: os.Rename, Sleep: time.Sleep, logger: logger}
}

// RenameWithRetry waits budget.Delay before every attempt and returns on the
// first attempt that succeeds.
func (m *Manager) RenameWithRetry(oldpath, newpath string, budget config.Retry) error {
	attempts := max(budget.Attempts, 1)
	var lastErr error
	for i := 1; i <= attempts; i++ {
		m.Sleep(budget.Delay)
		err := m.Rename(oldpath, newpath)
		if err == nil {
			m.logger.Info("Folder renamed.", "from", filepath.Base(oldpath), "to", filepath.Base(newpath), "attempt", i)
			return nil
		}
		lastErr = err
		m.logger.Debug("Rename attempt failed.", "from", oldpath, "to", newpath, "attempt", i, "error", err)
	}
	m.logger.Error("Renaming failed.", "from", oldpath, "to", newpath, "attempts", attempts, "error", lastErr)
	return &PermissionError{Old: oldpath, New: newpath, Attempts: attempts, Err: lastErr}
}

// DossierName builds the delivery name of a renamed e-dossier folder:
// {Customer}_{Company}_{P|S|M}, or {Customer}_{P|S|M} without a company id.
func DossierName(kind migtype.Kind, customer, company string) string {
	if company == "" {
		return fmt.Sprintf("%s_%s", customer, kind.DossierSuffix())
	}
	return fmt.Sprintf("%s_%s_%s", customer, company, kind.DossierSuffix())
}

// RenameDossier renames an e-dossier folder in place and returns the new path.
func (m *Manager) RenameDossier(folder string, kind migtype.Kind, customer, company string, budget config.Retry) (string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return "", fmt.Errorf("e-dossier folder %s: %w", folder, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("e-dossier folder %s is not a directory", folder)
	}
	target := filepath.Join(filepath.Dir(folder), DossierName(kind, customer, company))
	if err := m.RenameWithRetry(folder, target, budget); err != nil {
		return "", err
	}
	return target, nil
}

// FinalizeCustomer renames the customer root with the terminal suffix
// matching the outcome and returns the new path.
func (m *Manager) FinalizeCustomer(root, customer string, success bool, budget config.Retry) (string, error) {
	old := filepath.Join(root, customer)
	info, err := os.Stat(old)
	if err != nil {
		return "", fmt.Errorf("customer directory %s: %w", customer, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("customer directory %s is not a directory", customer)
	}
	suffix := FailedSuffix
	if success {
		suffix = SuccessSuffix
	}
	target := filepath.Join(root, customer+suffix)
	if err := m.RenameWithRetry(old, target, budget); err != nil {
		return "", err
	}
	return target, nil
}
