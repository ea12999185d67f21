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

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/harrylevesque/contactbook/internal/alert"
	"github.com/harrylevesque/contactbook/internal/client"
	"github.com/harrylevesque/contactbook/internal/config"
	"github.com/harrylevesque/contactbook/internal/utils"
)

var version = "dev"

// errReported means the failure was already shown to the user.
var errReported = errors.New("reported")

// Globals are flags shared by every command.
type Globals struct {
	Config      string `help:"Config file layered over the user and project files." type:"path" short:"c"`
	Server      string `help:"API base URL (overrides client.server_url)."`
	SessionFile string `help:"Where the session token is kept." type:"path" name:"session-file"`
}

// CLI is the top-level command structure for contactbook.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version." short:"V"`
	Signup  SignupCmd        `cmd:"" help:"Create an account and sign in."`
	Signin  SigninCmd        `cmd:"" help:"Sign in."`
	Signout SignoutCmd       `cmd:"" help:"Sign out."`
	Passwd  PasswdCmd        `cmd:"" help:"Change the account password."`
	Whoami  WhoamiCmd        `cmd:"" help:"Show the signed in account."`
	List    ListCmd          `cmd:"" default:"1" help:"List contacts."`
	Add     AddCmd           `cmd:"" help:"Add a contact."`
	Show    ShowCmd          `cmd:"" help:"Show one contact."`
	Edit    EditCmd          `cmd:"" help:"Edit a contact."`
	Rm      RmCmd            `cmd:"" help:"Delete a contact."`
	Watch   WatchCmd         `cmd:"" help:"Print the contact list on every change."`
}

// app carries what the commands share.
type app struct {
	out         io.Writer
	in          *bufio.Reader
	stdinFd     int
	relay       *alert.Relay
	presenter   *alert.TerminalPresenter
	client      *client.Client
	serverURL   string
	sessionPath string
	now         func() time.Time
}

func newApp(g Globals, in io.Reader, out io.Writer) (*app, error) {
	paths := config.DefaultPaths()
	if g.Config != "" {
		paths = append(paths, g.Config)
	}
	cfg, err := config.LoadLayered(paths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	serverURL := strings.TrimRight(cfg.Client.ServerURL, "/")
	if g.Server != "" {
		serverURL = strings.TrimRight(g.Server, "/")
	}
	sessionPath := cfg.Client.SessionFile
	if g.SessionFile != "" {
		sessionPath = g.SessionFile
	}
	if sessionPath == "" {
		sessionPath = utils.DefaultSessionFile()
	}

	br := bufio.NewReader(in)
	presenter := alert.NewTerminalPresenter(br, out)
	relay := alert.NewRelay()
	relay.SetPresenter(presenter)

	fd := -1
	if f, ok := in.(*os.File); ok {
		fd = int(f.Fd())
	}
	return &app{
		out:         out,
		in:          br,
		stdinFd:     fd,
		relay:       relay,
		presenter:   presenter,
		client:      client.New(serverURL, ""),
		serverURL:   serverURL,
		sessionPath: sessionPath,
		now:         time.Now,
	}, nil
}

// requireSession loads the saved token or fails with a hint.
func (a *app) requireSession() (client.Session, error) {
	s, err := client.LoadSession(a.sessionPath)
	if err != nil {
		return client.Session{}, err
	}
	if !s.Valid(a.serverURL, a.now()) {
		return client.Session{}, errors.New("not signed in, run `contactbook signin <email>`")
	}
	a.client.Token = s.Token
	return s, nil
}

// readPassword prompts for a secret, without echo on a terminal.
func (a *app) readPassword(prompt, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	fmt.Fprint(a.out, prompt)
	if a.stdinFd >= 0 && term.IsTerminal(a.stdinFd) {
		b, err := term.ReadPassword(a.stdinFd)
		fmt.Fprintln(a.out)
		return string(b), err
	}
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// checkServer fails with a dialog when the API does not answer /health.
func (a *app) checkServer(ctx context.Context) error {
	if err := a.client.Health(ctx); err != nil {
		a.notify(alert.KindError, "Error", "Cannot reach the server at "+a.serverURL)
		return errReported
	}
	return nil
}

// notify shows a one-button dialog. Nothing waits for the button.
func (a *app) notify(kind alert.Kind, title, message string) {
	a.relay.Show(alert.Alert{Title: title, Message: message, Kind: kind})
	a.relay.Hide()
}

// fail shows err as an error dialog. Server errors carry their own
// message; anything else gets the fallback text.
func (a *app) fail(fallback string, err error) error {
	msg := fallback
	var ce *utils.CustomError
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	a.notify(alert.KindError, "Error", msg)
	return errReported
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("contactbook"),
		kong.Description("Terminal client for the contact book."),
		kong.Vars{"version": version},
	)
	a, err := newApp(cli.Globals, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
	if err := ctx.Run(a); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		os.Exit(1)
	}
}
