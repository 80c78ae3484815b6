package main

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"librarydesk/library"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"book list", []string{"book", "list"}},
		{`subscribe --plan "Standard Plan" --user bob`, []string{"subscribe", "--plan", "Standard Plan", "--user", "bob"}},
		{`book search 'war and peace'`, []string{"book", "search", "war and peace"}},
		{`  a   ""  b `, []string{"a", "", "b"}},
	}
	for _, tc := range tests {
		got, err := splitArgs(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}

	_, err := splitArgs(`book search "open`)
	require.Error(t, err)
}

// newTestApp runs commands against a fresh database, feeding input as stdin.
func newTestApp(t *testing.T, input string) (*app, *bytes.Buffer) {
	t.Helper()
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("LOG_LEVEL", "error")
	out := &bytes.Buffer{}
	a := &app{
		in:     bufio.NewReader(strings.NewReader(input)),
		out:    out,
		dbPath: filepath.Join(t.TempDir(), "cli.db"),
	}
	t.Cleanup(a.close)
	return a, out
}

func TestShellSession(t *testing.T) {
	script := strings.Join([]string{
		"register --username alice --email alice@example.com",
		"secret1",
		"secret1",
		`book add --code BK-001 --call-number 823.9 --title "The Hobbit" --author Tolkien --publisher "Allen & Unwin" --quantity 2`,
		"admin123",
		"loan create --user alice --book 1",
		"secret1",
		"loan create --user alice --book 1",
		"secret1",
		"book search hobbit --user alice",
		"secret1",
		"waitlist list BK-001",
		"stats",
		"exit",
	}, "\n") + "\n"

	a, out := newTestApp(t, script)
	root := newRootCmd(a)
	root.SetArgs([]string{"shell"})
	require.NoError(t, root.Execute())

	text := out.String()
	assert.Contains(t, text, "Registered alice")
	assert.Contains(t, text, `Added "The Hobbit" as book ID 1`)
	assert.Contains(t, text, "Loaned BK-001 to alice")
	assert.Contains(t, text, "alice already has a loan for BK-001")
	assert.Contains(t, text, "Found 1 book(s) matching 'hobbit'")
	assert.Contains(t, text, "No waitlist requests.")
	assert.Contains(t, text, "library_loans_created_total")
	assert.Contains(t, text, "Goodbye!")
}

func TestJSONOutput(t *testing.T) {
	a, out := newTestApp(t, "")
	root := newRootCmd(a)
	root.SetArgs([]string{"plans", "--json"})
	require.NoError(t, root.Execute())

	var plans []struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &plans))
	require.Len(t, plans, 3)
	assert.Equal(t, "Basic Plan", plans[0].Name)
}

func TestAdminCommandRejectsSubscriber(t *testing.T) {
	script := "secret1\nsecret1\nsecret1\n"
	a, _ := newTestApp(t, script)

	root := newRootCmd(a)
	root.SetArgs([]string{"register", "--username", "bob", "--email", "bob@example.com"})
	require.NoError(t, root.Execute())

	root = newRootCmd(a)
	root.SetArgs([]string{"waitlist", "clear", "BK-001", "--user", "bob"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an administrator")
}

func TestPrintLoanCreated(t *testing.T) {
	loan := &library.Loan{
		CatalogCode: "BK-001",
		ReturnDate:  library.NewDate(2024, time.January, 16),
	}
	tests := []struct {
		res  library.CreateLoanResult
		want string
	}{
		{library.CreateLoanResult{Outcome: library.LoanCreated, Loan: loan}, "Loaned BK-001 to alice until 2024-01-16\n"},
		{library.CreateLoanResult{Outcome: library.LoanAlreadyExists, Loan: loan}, "alice already has a loan for BK-001 (due 2024-01-16)\n"},
		// A lost insert race whose winner vanished before the re-read.
		{library.CreateLoanResult{Outcome: library.LoanAlreadyExists}, "alice already has a loan for book 7\n"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		require.NotPanics(t, func() { printLoanCreated(&buf, "alice", 7, tc.res) })
		assert.Equal(t, tc.want, buf.String())
	}
}
