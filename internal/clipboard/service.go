package clipboard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrNoClipboard is returned when neither the clipboard package nor a system
// utility can write
var ErrNoClipboard = errors.New("no clipboard utility available")

// CopiedMsg reports the result of a Write
type CopiedMsg struct {
	Text string
	Err  error
}

// Service copies text to the system clipboard
type Service struct {
	logger *slog.Logger

	// primary and fallback are swapped out in tests
	primary  func(string) error
	fallback func(string) error
}

// NewService creates a clipboard service. Command, when set, is used if the
// clipboard package fails (e.g. "wl-copy" or "clip.exe").
func NewService(command string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		logger:  logger.With("component", "clipboard"),
		primary: clipboard.WriteAll,
	}
	s.fallback = func(text string) error { return copyWithCommand(text, command) }
	return s
}

// Write copies text and reports the outcome as a CopiedMsg
func (s *Service) Write(text string) tea.Cmd {
	return func() tea.Msg {
		return CopiedMsg{Text: text, Err: s.WriteNow(text)}
	}
}

// WriteNow copies text synchronously
func (s *Service) WriteNow(text string) error {
	if !clipboard.Unsupported {
		err := s.primary(text)
		if err == nil {
			s.logger.Debug("copied to clipboard", "length", len(text))
			return nil
		}
		s.logger.Warn("failed to copy using primary method", "error", err)
	}

	if err := s.fallback(text); err != nil {
		s.logger.Error("failed to copy to clipboard", "error", err, "os", runtime.GOOS)
		return err
	}
	return nil
}

// copyWithCommand pipes text into command, or into the first system utility
// found when command is empty
func copyWithCommand(text, command string) error {
	var cmd *exec.Cmd
	if parts := strings.Fields(command); len(parts) > 0 {
		cmd = exec.Command(parts[0], parts[1:]...)
	} else {
		name, args, err := defaultCommand()
		if err != nil {
			return err
		}
		cmd = exec.Command(name, args...)
	}

	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func defaultCommand() (string, []string, error) {
	switch runtime.GOOS {
	case "darwin":
		return "pbcopy", nil, nil
	case "windows":
		return "clip.exe", nil, nil
	case "linux":
		if isWSL() {
			return "clip.exe", nil, nil
		}
		switch {
		case commandExists("wl-copy"):
			return "wl-copy", nil, nil
		case commandExists("xclip"):
			return "xclip", []string{"-selection", "clipboard"}, nil
		case commandExists("xsel"):
			return "xsel", []string{"--clipboard", "--input"}, nil
		}
	}
	return "", nil, ErrNoClipboard
}

func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	version := strings.ToLower(string(data))
	return strings.Contains(version, "microsoft") || strings.Contains(version, "wsl")
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
