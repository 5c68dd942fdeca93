package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// ErrUnavailable means no interactive channel exists (stdin or stdout
// is not a terminal), so guided setup cannot run.
var ErrUnavailable = errors.New("interactive input unavailable")

// Interactor is the prompt surface guided setup talks through.
type Interactor interface {
	Confirm(prompt string) (bool, error)
	AskSecret(prompt string) (string, error)
	Notify(message string)
}

// NewInteractor returns a terminal interactor when attached to a TTY,
// otherwise one that refuses every prompt.
func NewInteractor() Interactor {
	if isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
		return &terminalInteractor{}
	}
	return noopInteractor{}
}

type terminalInteractor struct{}

func (terminalInteractor) Confirm(prompt string) (bool, error) {
	var answer bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(prompt).Value(&answer),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return answer, nil
}

func (terminalInteractor) AskSecret(prompt string) (string, error) {
	var value string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title(prompt).EchoMode(huh.EchoModePassword).Value(&value),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return value, nil
}

func (terminalInteractor) Notify(message string) {
	fmt.Fprintln(os.Stderr, message)
}

type noopInteractor struct{}

func (noopInteractor) Confirm(string) (bool, error)     { return false, ErrUnavailable }
func (noopInteractor) AskSecret(string) (string, error) { return "", ErrUnavailable }
func (noopInteractor) Notify(string)                    {}

// openBrowser launches the system browser. Best effort: guided setup
// always prints the URL too.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
