package cli

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ReadPassword prompts for a password on the controlling terminal, with echo disabled.
func ReadPassword(prompt string) (string, error) {
	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		} else {
			w = os.Stderr
		}
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}

func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}
	password, err := ReadPassword(prompt)
	if err != nil {
		return "", err
	}
	c.password = &password
	return password, nil
}
