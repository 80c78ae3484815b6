package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session; type commands without the program name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.inShell = true
			defer func() { a.inShell = false }()
			return runShell(a)
		},
	}
}

func runShell(a *app) error {
	fmt.Fprintln(a.out, "Welcome to the library desk!")
	fmt.Fprintln(a.out, "Available commands:")
	fmt.Fprintln(a.out, "  Accounts: register, login, users")
	fmt.Fprintln(a.out, "  Subscriptions: plans, subscribe, subscription")
	fmt.Fprintln(a.out, "  Books: book add|list|search|show|update|delete")
	fmt.Fprintln(a.out, "  Circulation: loan create|renew|list|holders")
	fmt.Fprintln(a.out, "  Waitlist: waitlist add|list|remove|promote|clear")
	fmt.Fprintln(a.out, "  System: stats, help, exit")

	jsonOut := a.jsonOut
	for {
		line, err := a.readLine("\n> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			fmt.Fprintln(a.out, "Goodbye!")
			return nil
		case "shell":
			fmt.Fprintln(a.out, "Already in the shell.")
			continue
		}

		// A fresh tree per line so flag values never leak between commands.
		a.jsonOut = jsonOut
		root := newRootCmd(a)
		root.SetArgs(args)
		if err := root.Execute(); err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
		}
	}
}

// splitArgs splits a command line on spaces, honouring single and double quotes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		inToken bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}
