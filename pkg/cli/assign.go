package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/tenantdesk/accesskit/pkg/assignment"
)

func newAssignCommand() *Command {
	cmd := &Command{
		Name:        "assign",
		Description: "Assign a profile to accounts of an organization",
		Flags:       flag.NewFlagSet("assign", flag.ExitOnError),
		Run:         runAssign,
	}

	serverFlag(cmd.Flags)
	cmd.Flags.String("profile", "", "Profile code to assign")
	cmd.Flags.String("org", "", "Organization ID")
	cmd.Flags.String("search", "", "Narrow the population by name or email")
	cmd.Flags.Int("limit", 0, "Population limit (server default when 0)")
	cmd.Flags.String("add", "", "Comma-separated user IDs to select")
	cmd.Flags.String("remove", "", "Comma-separated user IDs to deselect")
	cmd.Flags.Bool("yes", false, "Overwrite the profiles of conflicting accounts")
	cmd.Flags.Bool("dry-run", false, "Preview only; write nothing")

	return cmd
}

// sessionBody is the session payload returned by accessd
type sessionBody struct {
	assignment.Session
	Warning string              `json:"warning,omitempty"`
	Preview *assignment.Preview `json:"preview,omitempty"`
}

type assignOptions struct {
	profile string
	org     string
	search  string
	limit   int
	add     []string
	remove  []string
	yes     bool
	dryRun  bool
}

func runAssign(args []string) error {
	cmd := newAssignCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	limit, err := strconv.Atoi(cmd.Flags.Lookup("limit").Value.String())
	if err != nil {
		return fmt.Errorf("invalid limit: %w", err)
	}
	opts := assignOptions{
		profile: cmd.Flags.Lookup("profile").Value.String(),
		org:     cmd.Flags.Lookup("org").Value.String(),
		search:  cmd.Flags.Lookup("search").Value.String(),
		limit:   limit,
		add:     splitIDs(cmd.Flags.Lookup("add").Value.String()),
		remove:  splitIDs(cmd.Flags.Lookup("remove").Value.String()),
		yes:     cmd.Flags.Lookup("yes").Value.String() == "true",
		dryRun:  cmd.Flags.Lookup("dry-run").Value.String() == "true",
	}

	if opts.profile == "" || opts.org == "" {
		return fmt.Errorf("profile and org are required")
	}
	if len(opts.add) == 0 && len(opts.remove) == 0 {
		return fmt.Errorf("at least one of add or remove is required")
	}

	server := cmd.Flags.Lookup("server").Value.String()
	return assign(context.Background(), NewClient(server), opts)
}

func assign(ctx context.Context, client *Client, opts assignOptions) error {
	removing := make(map[string]struct{}, len(opts.remove))
	for _, id := range opts.remove {
		removing[id] = struct{}{}
	}
	for _, id := range opts.add {
		if _, ok := removing[id]; ok {
			return fmt.Errorf("user %s is both added and removed", id)
		}
	}

	var session sessionBody
	err := client.do(ctx, http.MethodPost, "/assignments/sessions", map[string]any{
		"profile_code":    opts.profile,
		"organization_id": opts.org,
		"search":          opts.search,
		"limit":           opts.limit,
	}, &session)
	if err != nil {
		return err
	}

	log := logger.WithFields(logrus.Fields{
		"session_id":   session.ID,
		"profile_code": session.ProfileCode,
		"population":   len(session.Population),
		"holders":      len(session.InitialSelection),
	})
	if session.Warning != "" {
		log.Warn(session.Warning)
	}
	if session.UnlistedHolders > 0 {
		log.WithField("unlisted_holders", session.UnlistedHolders).Warn("some holders are outside the loaded population")
	}

	closeSession := func() {
		if err := client.do(ctx, http.MethodDelete, "/assignments/sessions/"+session.ID, nil, nil); err != nil {
			log.WithError(err).Debug("failed to close session")
		}
	}

	selection := buildSelection(session.InitialSelection, opts.add, removing)

	var preview assignment.Preview
	if err := client.do(ctx, http.MethodPost, "/assignments/sessions/"+session.ID+"/preview", map[string]any{
		"selection": selection,
	}, &preview); err != nil {
		closeSession()
		return err
	}
	printPreview(preview)

	if opts.dryRun {
		closeSession()
		return nil
	}
	if len(preview.ToAdd) == 0 && len(preview.ToRemove) == 0 {
		closeSession()
		log.Info("nothing to change")
		return nil
	}

	var result assignment.Result
	err = client.do(ctx, http.MethodPost, "/assignments/sessions/"+session.ID+"/commit", map[string]any{
		"to_add":            preview.ToAdd,
		"to_remove":         preview.ToRemove,
		"confirm_overwrite": opts.yes,
	}, &result)

	var apiErr *APIError
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{
			"added":   result.Added,
			"removed": result.Removed,
		}).Info("assignment committed")
		return nil
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict:
		closeSession()
		conflicts := len(preview.Conflicts)
		if list, ok := apiErr.Details["conflicts"].([]any); ok {
			conflicts = len(list)
		}
		return fmt.Errorf("%d account(s) already hold another profile; rerun with --yes to overwrite", conflicts)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusInternalServerError && apiErr.Details != nil:
		// The server keeps a partially committed session as stale; a rerun
		// opens a fresh one against the current holders.
		closeSession()
		log.WithFields(logrus.Fields{
			"succeeded": apiErr.Details["succeeded"],
			"requested": apiErr.Details["requested"],
			"operation": apiErr.Details["operation"],
			"pending":   apiErr.Details["pending"],
		}).Error("assignment partially applied; rerun the same command to finish")
		return err
	default:
		return err
	}
}

// buildSelection applies additions and removals to the initial selection and
// returns a sorted selection
func buildSelection(initial, add []string, removing map[string]struct{}) []string {
	set := make(map[string]struct{}, len(initial)+len(add))
	for _, id := range initial {
		set[id] = struct{}{}
	}
	for _, id := range add {
		set[id] = struct{}{}
	}
	for id := range removing {
		delete(set, id)
	}

	selection := make([]string, 0, len(set))
	for id := range set {
		selection = append(selection, id)
	}
	sort.Strings(selection)
	return selection
}

func printPreview(preview assignment.Preview) {
	fmt.Printf("Adding %d account(s), removing %d account(s)\n", len(preview.ToAdd), len(preview.ToRemove))
	if len(preview.Conflicts) == 0 {
		return
	}

	fmt.Printf("\nAccounts that will lose another profile:\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tCURRENT\tTARGET")
	for _, c := range preview.Conflicts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.UserID, c.CurrentProfileCode, c.TargetProfileCode)
	}
	w.Flush()
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
