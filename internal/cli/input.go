package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var ErrPassphraseMismatch = errors.New("passphrases do not match")

// GetPassword prints prompt to w and reads a line from the terminal without
// echo. The caller should wipe the result.
func GetPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// GetPassphrase reads the backup passphrase. With confirm set it is asked
// twice, which export does so a typo does not make the backup unreadable.
func GetPassphrase(w io.Writer, confirm bool) ([]byte, error) {
	pw, err := GetPassword(w, "Backup passphrase: ")
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if !confirm {
		return pw, nil
	}

	again, err := GetPassword(w, "Repeat passphrase: ")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pw, again) {
		return nil, ErrPassphraseMismatch
	}
	return pw, nil
}
