package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-print"

	auth "github.com/goliatone/go-auth-service"
	"github.com/goliatone/go-auth-service/cache/rediscache"
)

const usage = `usage: authctl [-env FILE] <command>

commands:
  check                     validate settings and ping the database
  users list [-json]        list registered users
  users seed                create the sample users
  users delete <username>   delete a user and drop cached principals
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.Usage = func() { fmt.Fprint(stderr, usage) }
	envFile := fset.String("env", auth.DefaultEnvFile, "path to a .env file")
	if err := fset.Parse(args); err != nil {
		return 2
	}

	rest := fset.Args()
	if len(rest) == 0 {
		fset.Usage()
		return 2
	}

	settings, err := auth.LoadSettings(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 1
	}

	ctx := context.Background()

	switch rest[0] {
	case "check":
		err = check(ctx, settings, stdout)
	case "users":
		err = users(ctx, settings, rest[1:], stdout, stderr)
	default:
		fset.Usage()
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func check(ctx context.Context, settings auth.Settings, out io.Writer) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	repo, err := openRepo(ctx, settings)
	if err != nil {
		return err
	}
	defer repo.Close()

	fmt.Fprintf(out, "ok %s\n", settings.String())
	return nil
}

func users(ctx context.Context, settings auth.Settings, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("users: missing subcommand (list, seed, delete)")
	}

	repo, err := openRepo(ctx, settings)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	switch args[0] {
	case "list":
		fset := flag.NewFlagSet("users list", flag.ContinueOnError)
		fset.SetOutput(stderr)
		asJSON := fset.Bool("json", false, "print JSON")
		if err := fset.Parse(args[1:]); err != nil {
			return err
		}
		return listUsers(ctx, repo.Users(), *asJSON, stdout)
	case "seed":
		return seedUsers(ctx, settings, repo.Users(), stdout)
	case "delete":
		if len(args) < 2 || args[1] == "" {
			return fmt.Errorf("users delete: missing username")
		}
		return deleteUser(ctx, settings, repo.Users(), args[1], stdout)
	}

	return fmt.Errorf("users: unknown subcommand %q", args[0])
}

func listUsers(ctx context.Context, repo auth.Users, asJSON bool, out io.Writer) error {
	records, err := repo.List(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		views := make([]auth.UserView, 0, len(records))
		for _, r := range records {
			views = append(views, r.View())
		}
		fmt.Fprintln(out, print.MaybePrettyJSON(views))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUsername\tCreated At\tUpdated At")
	for _, r := range records {
		updated := "-"
		if r.UpdatedAt != nil {
			updated = r.UpdatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Username, r.CreatedAt.Format(time.RFC3339), updated)
	}
	return w.Flush()
}

func seedUsers(ctx context.Context, settings auth.Settings, repo auth.Users, out io.Writer) error {
	codec, err := auth.NewTokenServiceFromSettings(settings)
	if err != nil {
		return err
	}

	svc := auth.NewService(repo, auth.NewBcryptHasherFromSettings(settings), codec,
		auth.WithLogger(auth.NopLogger()),
		auth.WithIDGenerator(auth.HashidFromUsername),
	)

	results, err := auth.Seed(ctx, svc, auth.DefaultSeedUsers)
	for _, r := range results {
		switch {
		case r.Skipped():
			fmt.Fprintf(out, "skipped %s: already registered\n", r.Username)
		case r.Err == nil:
			fmt.Fprintf(out, "created %s (%s)\n", r.Username, r.User.ID)
		}
	}
	return err
}

func deleteUser(ctx context.Context, settings auth.Settings, repo auth.Users, username string, out io.Writer) error {
	if err := repo.Delete(ctx, username); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %s\n", username)

	if settings.RedisURL == "" {
		return nil
	}

	cache, err := rediscache.Open(ctx, settings.RedisURL)
	if err != nil {
		return err
	}
	defer cache.Close()

	return cache.InvalidateUser(ctx, username)
}

func openRepo(ctx context.Context, settings auth.Settings) (auth.RepositoryManager, error) {
	repo, err := auth.OpenRepositoryManager(settings.DatabaseURL, auth.NopLogger())
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}
