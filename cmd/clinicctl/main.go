// Command clinicctl is a terminal client for the legal clinic portal. It
// drives the full session lifecycle: login, restoration on startup, token
// renewal, inactivity expiry and logout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/core/ports"
	"github.com/ucmc/clinic-client/internal/core/service"
	"github.com/ucmc/clinic-client/internal/infrastructure/api"
	"github.com/ucmc/clinic-client/internal/infrastructure/httpclient"
	filestore "github.com/ucmc/clinic-client/internal/infrastructure/store/file"
	redisstore "github.com/ucmc/clinic-client/internal/infrastructure/store/redis"
	"github.com/ucmc/clinic-client/internal/pkg/config"
	"github.com/ucmc/clinic-client/pkg/logger"
)

const usage = `usage: clinicctl <command> [arguments]

commands:
  login     -email <email>            sign in (password read from terminal)
  logout                              sign out and wipe stored credentials
  whoami                              show the authenticated user
  status                              show session state and last activity
  profile   [-name] [-surname] [-phone] [-program]   update profile fields
  forgot    -email <email>            request a password recovery code
  reset     -email <email> -code <code>              reset password with a code
  students  <list|add|remove>         coordinator student management
`

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "clinicctl:", renderError(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	command, args := os.Args[1], os.Args[2:]

	cfg, err := config.LoadClient(ctx)
	if err != nil {
		return err
	}

	logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.Pretty})
	log := logger.For("clinicctl")

	store, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens := httpclient.NewTokenSource()
	client := httpclient.New(cfg.BaseURL, tokens, log)
	authAPI := api.NewAuthAPI(client)

	manager := service.NewSessionManager(
		store, authAPI, tokens, nil, domain.DefaultTimeoutPolicy, log,
	)
	client.SetHooks(httpclient.Hooks{
		OnRenewed:     manager.HandleTokenRenewed,
		OnAuthExpired: manager.HandleAuthExpired,
	})

	manager.Initialize(ctx)

	switch command {
	case "login":
		return cmdLogin(ctx, manager, args)
	case "logout":
		manager.Logout()
		fmt.Println("signed out")
		return nil
	case "whoami":
		return cmdWhoami(manager)
	case "status":
		return cmdStatus(manager)
	case "profile":
		return cmdProfile(ctx, manager, args)
	case "forgot":
		return cmdForgot(ctx, manager, args)
	case "reset":
		return cmdReset(ctx, manager, args)
	case "students":
		return cmdStudents(ctx, manager, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// buildStore selects the credential store backend. The file store is the
// default; Redis serves shared-terminal kiosk deployments.
func buildStore(ctx context.Context, cfg *config.Client, log zerolog.Logger) (ports.CredentialStore, func(), error) {
	switch cfg.StoreBackend {
	case "redis":
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewStore(client, "", log), func() { _ = client.Close() }, nil
	case "file", "":
		path := cfg.StorePath
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, nil, fmt.Errorf("resolve config dir: %w", err)
			}
			path = filepath.Join(dir, "clinicctl", "session.json")
		}
		return filestore.New(path, log), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func cmdLogin(ctx context.Context, m *service.SessionManager, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	_ = fs.Parse(args)

	password, err := readPassword("password: ")
	if err != nil {
		return err
	}

	if err := m.Login(ctx, *email, password); err != nil {
		snap := m.Snapshot()
		if snap.Error != "" {
			return errors.New(snap.Error)
		}
		return err
	}

	snap := m.Snapshot()
	fmt.Printf("signed in as %s %s (%s)\n", snap.User.Name, snap.User.Surname, snap.User.Role)
	return nil
}

func cmdWhoami(m *service.SessionManager) error {
	snap := m.Snapshot()
	if !snap.IsAuthenticated {
		return domain.ErrNoCredentials
	}
	m.RecordActivity()

	u := snap.User
	fmt.Printf("%s %s <%s>\nrole: %s\n", u.Name, u.Surname, u.Email, u.Role)
	if u.Role == domain.RoleStudent {
		fmt.Printf("student code: %s\nprogram: %s, semester %d\n", u.StudentCode, u.Program, u.Semester)
	}
	return nil
}

func cmdStatus(m *service.SessionManager) error {
	snap := m.Snapshot()
	fmt.Println("phase:", snap.Phase())
	if snap.IsAuthenticated {
		fmt.Println("user:", snap.User.Email)
		fmt.Println("last activity:", snap.LastActivity.Format("2006-01-02 15:04:05"))
		m.RecordActivity()
	}
	if snap.Error != "" {
		fmt.Println("error:", snap.Error)
	}
	return nil
}

func cmdProfile(ctx context.Context, m *service.SessionManager, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "first name")
	surname := fs.String("surname", "", "last name")
	phone := fs.String("phone", "", "phone number")
	program := fs.String("program", "", "academic program")
	_ = fs.Parse(args)

	if !m.Snapshot().IsAuthenticated {
		return domain.ErrNoCredentials
	}
	m.RecordActivity()

	user, err := m.UpdateProfile(ctx, ports.ProfileInput{
		Name:    *name,
		Surname: *surname,
		Phone:   *phone,
		Program: *program,
	})
	if err != nil {
		return err
	}
	fmt.Printf("profile updated: %s %s\n", user.Name, user.Surname)
	return nil
}

func cmdForgot(ctx context.Context, m *service.SessionManager, args []string) error {
	fs := flag.NewFlagSet("forgot", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	_ = fs.Parse(args)

	msg, err := m.ForgotPassword(ctx, *email)
	if err != nil {
		snap := m.Snapshot()
		if snap.Error != "" {
			return errors.New(snap.Error)
		}
		return err
	}
	fmt.Println(msg)
	return nil
}

func cmdReset(ctx context.Context, m *service.SessionManager, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	code := fs.String("code", "", "recovery code")
	_ = fs.Parse(args)

	password, err := readPassword("new password: ")
	if err != nil {
		return err
	}

	msg, err := m.ResetPassword(ctx, service.ResetPasswordInput{
		Email:       *email,
		Code:        *code,
		NewPassword: password,
	})
	if err != nil {
		snap := m.Snapshot()
		if snap.Error != "" {
			return errors.New(snap.Error)
		}
		return err
	}
	fmt.Println(msg)
	return nil
}

func cmdStudents(ctx context.Context, m *service.SessionManager, args []string) error {
	if !m.Snapshot().IsAuthenticated {
		return domain.ErrNoCredentials
	}
	m.RecordActivity()

	if len(args) == 0 {
		args = []string{"list"}
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		students, err := m.ListStudents(ctx)
		if err != nil {
			return err
		}
		for _, s := range students {
			fmt.Printf("%s\t%s %s\t%s\t%s\n", s.ID, s.Name, s.Surname, s.Email, s.StudentCode)
		}
		return nil
	case "add":
		fs := flag.NewFlagSet("students add", flag.ExitOnError)
		email := fs.String("email", "", "student email")
		name := fs.String("name", "", "first name")
		surname := fs.String("surname", "", "last name")
		codeFlag := fs.String("code", "", "student code")
		program := fs.String("program", "", "academic program")
		semester := fs.Int("semester", 0, "current semester")
		_ = fs.Parse(rest)

		student, err := m.RegisterStudent(ctx, ports.StudentInput{
			Email:       *email,
			Name:        *name,
			Surname:     *surname,
			StudentCode: *codeFlag,
			Program:     *program,
			Semester:    *semester,
		})
		if err != nil {
			return err
		}
		fmt.Printf("student registered: %s (%s)\n", student.Email, student.ID)
		return nil
	case "remove":
		fs := flag.NewFlagSet("students remove", flag.ExitOnError)
		id := fs.String("id", "", "student id")
		_ = fs.Parse(rest)

		if err := m.DeleteStudent(ctx, *id); err != nil {
			return err
		}
		fmt.Println("student removed")
		return nil
	default:
		return fmt.Errorf("unknown students subcommand %q", sub)
	}
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

// renderError translates well-known conditions into friendlier messages.
func renderError(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, domain.ErrNoCredentials):
		return "not signed in (run: clinicctl login -email <email>)"
	case errors.Is(err, domain.ErrSessionExpired):
		return "session expired, sign in again"
	case errors.Is(err, domain.ErrUnreachable):
		return "portal unreachable, check your connection"
	}
	return err.Error()
}
