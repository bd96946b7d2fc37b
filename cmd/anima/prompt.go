package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"

	"github.com/anima-vault/anima/internal/config"
	"github.com/anima-vault/anima/pkg/vault"
)

// stdin is shared by every line prompt so buffered input is not lost
// between prompts.
var stdin = bufio.NewReader(os.Stdin)

// envPassword caches $ANIMA_PASSWORD, which config.Password clears on read.
var envPassword *string

func passwordFromEnv() (string, bool) {
	if envPassword == nil {
		pw, ok := config.Password()
		if !ok {
			pw = ""
		}
		envPassword = &pw
	}
	return *envPassword, *envPassword != ""
}

// readLine prints prompt and returns one trimmed line from r.
func readLine(r *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret reads without echo from a terminal, or a plain line otherwise.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(stdin, prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// readPassword returns $ANIMA_PASSWORD when set, else prompts.
func readPassword(prompt string) (string, error) {
	if pw, ok := passwordFromEnv(); ok {
		return pw, nil
	}
	return readSecret(prompt)
}

// readNewPassword prompts twice. $ANIMA_PASSWORD answers both prompts.
func readNewPassword(what string) (password, confirm string, err error) {
	if pw, ok := passwordFromEnv(); ok {
		return pw, pw, nil
	}
	if password, err = readSecret("Enter " + what + ": "); err != nil {
		return "", "", err
	}
	if confirm, err = readSecret("Confirm " + what + ": "); err != nil {
		return "", "", err
	}
	return password, confirm, nil
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(r *bufio.Reader, question string) (bool, error) {
	answer, err := readLine(r, question+" [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	return s
}

// currentUser returns --user or the last user to log in.
func currentUser(ctx context.Context) (string, error) {
	if userFlag != "" {
		return userFlag, nil
	}
	last, err := app.store.LastUser(ctx)
	if err != nil {
		return "", err
	}
	if last == "" {
		return "", errors.New("no account selected; pass --user")
	}
	return last, nil
}

// login opens a session for the current user, prompting for the password
// and, when the account requires it, the MFA code.
func login(ctx context.Context) (*vault.Session, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	password, err := readPassword(fmt.Sprintf("Master password for %s: ", user))
	if err != nil {
		return nil, err
	}

	code := codeFlag
	for {
		s := newSpinner("Unlocking vault...")
		s.Start()
		session, err := app.store.Login(ctx, user, password, code)
		s.Stop()

		if errors.Is(err, vault.ErrMFARequired) && code == "" {
			if code, err = readLine(stdin, "MFA code: "); err != nil {
				return nil, err
			}
			if code == "" {
				return nil, vault.ErrMFARequired
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if session.Outcome() == vault.OutcomeCorrupted {
			printWarning("The saved vault for %s could not be decrypted and was set aside; starting empty", user)
		}
		return session, nil
	}
}

// withSession logs in, runs fn and logs out.
func withSession(ctx context.Context, fn func(*vault.Session) error) error {
	session, err := login(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Logout(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, vault.ErrLocked) {
			app.logger.Warn(ctx, "logout failed", "error", err)
		}
	}()
	return fn(session)
}
