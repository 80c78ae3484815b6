package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"librarydesk/config"
	"librarydesk/library"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app is the state shared by every command of one process, including all the
// commands typed into a shell session.
type app struct {
	cfg *config.Config
	log *zap.Logger
	mgr *library.LibraryManager

	in  *bufio.Reader
	out io.Writer
	tty bool // stdin is a terminal; passwords are read unechoed

	// flag overrides
	dbPath   string
	logLevel string
	jsonOut  bool

	inShell bool
}

func main() {
	a := &app{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
		tty: term.IsTerminal(int(os.Stdin.Fd())),
	}
	if err := newRootCmd(a).Execute(); err != nil {
		a.close()
		os.Exit(1)
	}
	a.close()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "librarydesk",
		Short:         "Library desk: catalog, subscriptions, loans and waitlists",
		SilenceUsage:  true,
		SilenceErrors: a.inShell,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.dbPath, "db", a.dbPath, "SQLite database file (default $LIBRARY_DB or library.db)")
	flags.StringVar(&a.logLevel, "log-level", a.logLevel, "debug, info, warn or error (default $LOG_LEVEL or info)")
	flags.BoolVar(&a.jsonOut, "json", a.jsonOut, "print results as JSON")

	root.AddCommand(
		newShellCmd(a),
		newRegisterCmd(a),
		newLoginCmd(a),
		newPlansCmd(a),
		newSubscribeCmd(a),
		newSubscriptionCmd(a),
		newUsersCmd(a),
		newBookCmd(a),
		newLoanCmd(a),
		newWaitlistCmd(a),
		newStatsCmd(a),
	)
	return root
}

// open loads configuration, builds the logger and opens the database. It runs
// once per process.
func (a *app) open(ctx context.Context) error {
	if a.mgr != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	if a.log, err = config.NewLogger(cfg.LogLevel, cfg.Development()); err != nil {
		return err
	}

	mgr, err := library.NewLibraryManager(cfg.DBPath,
		library.WithManagerLogger(a.log),
		library.WithBcryptCost(cfg.BcryptCost),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.mgr = mgr

	if ctx == nil {
		ctx = context.Background()
	}
	if err := mgr.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.mgr != nil {
		a.mgr.Close()
		a.mgr = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// readLine prints prompt and reads one line from the shared input.
func (a *app) readLine(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads a password with masking when stdin is a terminal.
func (a *app) readPassword(prompt string) (string, error) {
	if !a.tty {
		return a.readLine(prompt)
	}
	fmt.Fprint(a.out, prompt)
	bytePassword, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(a.out) // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

// authenticate prompts for username's password and logs them in.
func (a *app) authenticate(ctx context.Context, username string) (*library.User, error) {
	if username == "" {
		return nil, fmt.Errorf("--user is required")
	}
	password, err := a.readPassword(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return a.mgr.Login(ctx, username, password)
}

// authenticateAdmin is authenticate restricted to administrators.
func (a *app) authenticateAdmin(ctx context.Context, username string) (*library.User, error) {
	if username == "" {
		username = a.cfg.Admin.Username
	}
	user, err := a.authenticate(ctx, username)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin {
		return nil, fmt.Errorf("%s is not an administrator", username)
	}
	return user, nil
}

// emit prints v as JSON when --json is set, otherwise calls text.
func (a *app) emit(v interface{}, text func(w io.Writer)) error {
	if a.jsonOut {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, string(b))
		return err
	}
	text(a.out)
	return nil
}
