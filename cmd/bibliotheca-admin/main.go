// ABOUTME: Direct-store admin CLI for operators, bypassing the HTTP API
// ABOUTME: Commands: create-admin, reset-password, unlock-user, promote-user, list-users, stats

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/bibliotheca-app/bibliotheca/internal/auth"
	"github.com/bibliotheca-app/bibliotheca/internal/migrate"
	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "create-admin":
		err = runCreateAdmin(ctx, os.Args[2:])
	case "reset-password":
		err = runResetPassword(ctx, os.Args[2:])
	case "unlock-user":
		err = runUnlockUser(ctx, os.Args[2:])
	case "promote-user":
		err = runPromoteUser(ctx, os.Args[2:])
	case "list-users":
		err = runListUsers(ctx)
	case "stats":
		err = runStats(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: bibliotheca-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  create-admin <username> <email> <password>  Create an admin account")
	fmt.Println("  reset-password <username> <password>        Reset a user's password (forces change)")
	fmt.Println("  unlock-user <username>                      Clear a user's lockout state")
	fmt.Println("  promote-user <username>                     Grant admin to a user")
	fmt.Println("  list-users                                  List all accounts and their state")
	fmt.Println("  stats                                       Show library statistics")
}

// openStore opens the configured database and brings its schema up to date,
// so the CLI works even against a file the server has never touched.
func openStore(ctx context.Context) (*store.SQLiteStore, func(), error) {
	cfg, err := loadConfig(configPath())
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	engine := migrate.NewEngine(db, migrate.Config{Path: cfg.Database.Path})
	snapshot, err := engine.Inspect(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	plan := migrate.PlanMigration(snapshot, migrate.DesiredSchema())
	if migrate.NeedsMigration(snapshot, plan) {
		engine.Backup()
	}
	engine.Apply(ctx, plan)

	return store.New(db), func() { _ = db.Close() }, nil
}

func runCreateAdmin(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: bibliotheca-admin create-admin <username> <email> <password>")
	}
	username, email, password := args[0], args[1], args[2]

	if !auth.IsPasswordStrong(password) {
		fmt.Println("Password does not meet security requirements:")
		for _, req := range auth.PasswordRequirements() {
			fmt.Printf("  - %s\n", req)
		}
		return fmt.Errorf("weak password")
	}

	s, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:                   uuid.New().String(),
		Username:             username,
		Email:                email,
		PasswordHash:         hash,
		IsAdmin:              true,
		IsActive:             true,
		CreatedAt:            now,
		PasswordChangedAt:    &now,
		ShareCurrentReading:  true,
		ShareReadingActivity: true,
		ShareLibrary:         true,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created admin: %s <%s>\n", username, email)
	return nil
}

func runResetPassword(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bibliotheca-admin reset-password <username> <password>")
	}
	username, password := args[0], args[1]

	s, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}

	accounts := auth.NewAccounts(s)
	if err := accounts.AdminResetPassword(ctx, user.ID, password); err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			fmt.Println("Password does not meet security requirements:")
			for _, req := range auth.PasswordRequirements() {
				fmt.Printf("  - %s\n", req)
			}
		}
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Password reset for %s (change required at next login)\n", username)
	return nil
}

func runUnlockUser(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bibliotheca-admin unlock-user <username>")
	}

	s, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	user, err := s.GetUserByUsername(ctx, args[0])
	if err != nil {
		return err
	}

	if err := auth.NewAccounts(s).AdminUnlock(ctx, user.ID); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Unlocked %s\n", args[0])
	return nil
}

func runPromoteUser(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bibliotheca-admin promote-user <username>")
	}

	s, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	user, err := s.GetUserByUsername(ctx, args[0])
	if err != nil {
		return err
	}
	if user.IsAdmin {
		fmt.Printf("%s is already an admin\n", args[0])
		return nil
	}

	if err := s.SetUserAdmin(ctx, user.ID, true); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Promoted %s to admin\n", args[0])
	return nil
}

func runListUsers(ctx context.Context) error {
	s, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("Users (%d)\n\n", len(users))

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tEMAIL\tADMIN\tACTIVE\tFAILED\tSTATE\tLAST LOGIN")
	for _, u := range users {
		state := "ok"
		if u.IsLocked(now) {
			state = fmt.Sprintf("locked until %s", u.LockedUntil.Format("15:04:05"))
		} else if u.PasswordMustChange {
			state = "must change password"
		}
		lastLogin := "never"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\t%s\t%s\n",
			u.Username, u.Email, u.IsAdmin, u.IsActive, u.FailedLoginAttempts, state, lastLogin)
	}
	return w.Flush()
}

func runStats(ctx context.Context) error {
	s, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	users, err := s.CountUsers(ctx)
	if err != nil {
		return err
	}
	admins, err := s.CountAdmins(ctx)
	if err != nil {
		return err
	}
	books, err := s.CountBooks(ctx)
	if err != nil {
		return err
	}
	logs, err := s.CountReadingLogs(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("Library statistics")
	cyan.Println("------------------")
	fmt.Printf("  Users:        %d (%d admins)\n", users, admins)
	fmt.Printf("  Books:        %d\n", books)
	fmt.Printf("  Reading logs: %d\n", logs)
	return nil
}
