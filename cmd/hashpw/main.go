// Command hashpw prints the bcrypt hash of a password read from the terminal
// without echo, for seeding accounts directly in SQL. When stdin is not a
// terminal the first line of stdin is used.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"golang.org/x/term"
)

// readPassword and isTerminal are test seams for golang.org/x/term.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

var errMismatch = errors.New("passwords do not match")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "hashpw:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("hashpw", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cost := fs.Int("cost", cryptox.DefaultCost, "bcrypt work factor")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hasher, err := cryptox.NewBcryptHasher(*cost)
	if err != nil {
		return err
	}

	pw, err := password(stdin, stderr)
	if err != nil {
		return err
	}
	defer cryptox.Wipe(pw)
	if len(pw) == 0 {
		return errors.New("empty password")
	}

	digest, err := hasher.Hash(string(pw))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, digest)
	return err
}

func password(stdin *os.File, prompt io.Writer) ([]byte, error) {
	fd := int(stdin.Fd())

	if !isTerminal(fd) {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}

	first, err := ask(fd, prompt, "Password: ")
	if err != nil {
		return nil, err
	}
	second, err := ask(fd, prompt, "Repeat password: ")
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(second)
	if !bytes.Equal(first, second) {
		cryptox.Wipe(first)
		return nil, errMismatch
	}
	return first, nil
}

func ask(fd int, w io.Writer, prompt string) ([]byte, error) {
	fmt.Fprint(w, prompt)
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	return pw, err
}
