package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"userManager/models"
	"userManager/repository"
)

const menuText = `
1) List users
2) Add user
3) Remove user
4) Exit
`

var (
	errColor  = color.New(color.FgRed)
	okColor   = color.New(color.FgGreen)
	infoColor = color.New(color.FgYellow)
)

// errAborted ends an add attempt that was already reported to the user.
var errAborted = errors.New("aborted")

// Menu drives the interactive user management loop.
type Menu struct {
	users repository.UserRepositoryI
	log   *zap.Logger
	in    *bufio.Scanner
	out   io.Writer
	lines chan inputLine
}

type inputLine struct {
	text string
	err  error
}

// New returns a Menu reading answers from in and printing to out.
func New(users repository.UserRepositoryI, log *zap.Logger, in io.Reader, out io.Writer) *Menu {
	if log == nil {
		log = zap.NewNop()
	}
	return &Menu{users: users, log: log, in: bufio.NewScanner(in), out: out}
}

// Run shows the menu until the user picks Exit, input ends or ctx is done.
// A prompt waiting for input returns as soon as ctx is canceled.
// Store failures are reported and the loop keeps going.
func (m *Menu) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	m.lines = make(chan inputLine)
	go m.readLines(m.lines, done)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(m.out, menuText)
		line, err := m.prompt(ctx, "Choose an option: ")
		if err != nil {
			return m.endOfInput(err)
		}
		choice, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil || choice < 1 || choice > 4 {
			errColor.Fprintf(m.out, "Invalid option %q. Enter a number from 1 to 4.\n", strings.TrimSpace(line))
			m.log.Warn("invalid menu option", zap.String("input", line))
			continue
		}

		switch choice {
		case 1:
			err = m.listUsers(ctx)
		case 2:
			err = m.addUser(ctx)
		case 3:
			err = m.removeUser(ctx)
		case 4:
			m.log.Info("exiting")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, io.EOF) {
			return m.endOfInput(err)
		}
		if err != nil && !errors.Is(err, errAborted) {
			m.report(err)
		}
	}
}

func (m *Menu) endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		m.log.Info("input closed, exiting")
		return nil
	}
	return err
}

// readLines feeds scanned lines to lines until input ends or done closes.
// The final value carries io.EOF or the scanner error.
func (m *Menu) readLines(lines chan<- inputLine, done <-chan struct{}) {
	send := func(l inputLine) bool {
		select {
		case lines <- l:
			return true
		case <-done:
			return false
		}
	}
	for m.in.Scan() {
		if !send(inputLine{text: m.in.Text()}) {
			return
		}
	}
	err := io.EOF
	if scanErr := m.in.Err(); scanErr != nil {
		err = fmt.Errorf("read input: %w", scanErr)
	}
	send(inputLine{err: err})
}

// prompt prints label and waits for one line. It returns io.EOF when input
// ends and ctx.Err() when ctx is done first.
func (m *Menu) prompt(ctx context.Context, label string) (string, error) {
	fmt.Fprint(m.out, label)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-m.lines:
		return l.text, l.err
	}
}

func (m *Menu) listUsers(ctx context.Context) error {
	users, err := m.users.List(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		infoColor.Fprintln(m.out, "No users found.")
		m.log.Info("no users to display")
		return nil
	}
	for _, u := range users {
		fmt.Fprintf(m.out, "Username: %q\tEmail: %q\tRole: %q\n", u.Username, u.Email, u.Role)
		m.log.Info("displayed user", zap.String("username", u.Username))
	}
	m.log.Info("finished displaying users", zap.Int("count", len(users)))
	return nil
}

// addUser collects and validates fields in order, aborting on the first
// invalid value or an existing username.
func (m *Menu) addUser(ctx context.Context) error {
	username, err := m.prompt(ctx, "Username: ")
	if err != nil {
		return err
	}
	if !repository.ValidateUsername(username) {
		return &repository.ValidationError{Field: "username", Value: username}
	}
	exists, err := m.users.Exists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		errColor.Fprintf(m.out, "User %q already exists.\n", username)
		m.log.Warn("duplicate username", zap.String("username", username))
		return errAborted
	}

	email, err := m.prompt(ctx, "Email: ")
	if err != nil {
		return err
	}
	if !repository.ValidateEmail(email) {
		return &repository.ValidationError{Field: "email", Value: email}
	}

	role, err := m.prompt(ctx, "Role: ")
	if err != nil {
		return err
	}
	if !repository.ValidateRole(role) {
		return &repository.ValidationError{Field: "role", Value: role}
	}

	if err := m.users.Add(ctx, models.NewUser(username, email, role)); err != nil {
		return err
	}
	okColor.Fprintf(m.out, "User %q added.\n", username)
	m.log.Info("user added", zap.String("username", username), zap.String("role", role))
	return nil
}

func (m *Menu) removeUser(ctx context.Context) error {
	username, err := m.prompt(ctx, "Username to remove: ")
	if err != nil {
		return err
	}
	if err := m.users.Remove(ctx, username); err != nil {
		return err
	}
	okColor.Fprintf(m.out, "User %q removed.\n", username)
	m.log.Info("user removed", zap.String("username", username))
	return nil
}

// report prints a user-facing message for err and logs its kind and value.
func (m *Menu) report(err error) {
	var (
		corrupt  *repository.CorruptStoreError
		invalid  *repository.ValidationError
		notFound *repository.NotFoundError
	)
	switch {
	case errors.As(err, &corrupt):
		errColor.Fprintf(m.out, "The user file %q is corrupt and cannot be read.\n", corrupt.Path)
		m.log.Error("corrupt user store", zap.String("path", corrupt.Path), zap.Error(corrupt.Err))
	case errors.As(err, &invalid):
		errColor.Fprintf(m.out, "Invalid %s: %q.\n", invalid.Field, invalid.Value)
		m.log.Warn("validation failed", zap.String("field", invalid.Field), zap.String("value", invalid.Value))
	case errors.As(err, &notFound):
		errColor.Fprintf(m.out, "User %q not found.\n", notFound.Username)
		m.log.Error("user not found", zap.String("username", notFound.Username))
	default:
		errColor.Fprintf(m.out, "Operation failed: %v\n", err)
		m.log.Error("operation failed", zap.Error(err))
	}
}
