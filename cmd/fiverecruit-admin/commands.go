package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/platformadmin"
)

// env is what every subcommand runs against
type env struct {
	admin  *platformadmin.Service
	issuer *auth.TokenIssuer
	out    io.Writer
	logger *logrus.Logger
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"bootstrap":     {"bootstrap -user <id>", runBootstrap},
	"grant-admin":   {"grant-admin -actor <admin id> -user <id> [-note text]", runGrantAdmin},
	"revoke-admin":  {"revoke-admin -actor <admin id> -user <id>", runRevokeAdmin},
	"list-admins":   {"list-admins -actor <admin id>", runListAdmins},
	"issue-license": {"issue-license -actor <admin id> -plan standard|premium [-max-jobs n] [-valid-days n] [-count n]", runIssueLicense},
	"list-licenses": {"list-licenses -actor <admin id>", runListLicenses},
	"issue-token":   {"issue-token -user <id> [-username name] [-ttl 1h]", runIssueToken},
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Usage: fiverecruit-admin <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("-%s is required", name)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runBootstrap(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("bootstrap")
	user := fs.String("user", "", "User id of the first platform admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("user", *user); err != nil {
		return err
	}

	admin, err := e.admin.Bootstrap(ctx, *user)
	if err != nil {
		return err
	}
	e.logger.WithField("user_id", admin.UserID).Info("Bootstrapped platform admin")
	return printJSON(e.out, admin)
}

func runGrantAdmin(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("grant-admin")
	actor := fs.String("actor", "", "Acting platform admin")
	user := fs.String("user", "", "User id to grant")
	note := fs.String("note", "", "Free text note stored with the grant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("actor", *actor); err != nil {
		return err
	}
	if err := required("user", *user); err != nil {
		return err
	}

	admin, err := e.admin.Grant(ctx, *actor, *user, *note)
	if err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{"user_id": admin.UserID, "granted_by": *actor}).Info("Granted platform admin")
	return printJSON(e.out, admin)
}

func runRevokeAdmin(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("revoke-admin")
	actor := fs.String("actor", "", "Acting platform admin")
	user := fs.String("user", "", "User id to revoke")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("actor", *actor); err != nil {
		return err
	}
	if err := required("user", *user); err != nil {
		return err
	}

	if err := e.admin.Revoke(ctx, *actor, *user); err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{"user_id": *user, "revoked_by": *actor}).Info("Revoked platform admin")
	return nil
}

func runListAdmins(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("list-admins")
	actor := fs.String("actor", "", "Acting platform admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("actor", *actor); err != nil {
		return err
	}

	admins, err := e.admin.ListAdmins(ctx, *actor)
	if err != nil {
		return err
	}
	return printJSON(e.out, admins)
}

func runIssueLicense(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("issue-license")
	actor := fs.String("actor", "", "Acting platform admin")
	plan := fs.String("plan", "", "Plan granted by the license (standard or premium)")
	maxJobs := fs.Int("max-jobs", 0, "Job quota; 0 uses the plan default")
	validDays := fs.Int("valid-days", 0, "Days until expiry; 0 never expires")
	count := fs.Int("count", 1, "Number of keys to mint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("actor", *actor); err != nil {
		return err
	}
	if err := required("plan", *plan); err != nil {
		return err
	}

	issued, err := e.admin.IssueLicense(ctx, *actor, entitlements.IssueLicenseRequest{
		Plan:      entitlements.Plan(*plan),
		MaxJobs:   *maxJobs,
		ValidDays: *validDays,
		Count:     *count,
	})
	if err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{"plan": *plan, "count": len(issued)}).Info("Issued licenses")
	return printJSON(e.out, issued)
}

func runListLicenses(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("list-licenses")
	actor := fs.String("actor", "", "Acting platform admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("actor", *actor); err != nil {
		return err
	}

	licenses, err := e.admin.ListLicenses(ctx, *actor)
	if err != nil {
		return err
	}
	return printJSON(e.out, licenses)
}

// runIssueToken signs a bearer token with the API secret, for local
// testing against a running server
func runIssueToken(_ context.Context, e *env, args []string) error {
	fs := newFlagSet("issue-token")
	user := fs.String("user", "", "Subject of the token")
	username := fs.String("username", "", "Display name claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("user", *user); err != nil {
		return err
	}
	if e.issuer == nil {
		return fmt.Errorf("FIVERECRUIT_JWT_SECRET is not set")
	}

	token, err := e.issuer.Issue(*user, *username, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.out, token)
	return err
}
