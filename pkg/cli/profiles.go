package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/tenantdesk/accesskit/pkg/profiles"
)

func newProfilesCommand() *Command {
	cmd := &Command{
		Name:        "profiles",
		Description: "List the profiles visible to an organization",
		Flags:       flag.NewFlagSet("profiles", flag.ExitOnError),
		Run:         runProfiles,
	}

	serverFlag(cmd.Flags)
	cmd.Flags.String("org", "", "Organization ID (templates only when empty)")
	cmd.Flags.Bool("inactive", false, "Include inactive profiles")
	cmd.Flags.Bool("templates", true, "Include templates")
	cmd.Flags.String("locale", "en", "Locale used for display names")

	return cmd
}

func runProfiles(args []string) error {
	cmd := newProfilesCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	server := cmd.Flags.Lookup("server").Value.String()
	org := cmd.Flags.Lookup("org").Value.String()
	inactive := cmd.Flags.Lookup("inactive").Value.String() == "true"
	templates := cmd.Flags.Lookup("templates").Value.String() == "true"
	locale := cmd.Flags.Lookup("locale").Value.String()

	query := url.Values{}
	if org != "" {
		query.Set("organization_id", org)
	}
	query.Set("include_inactive", fmt.Sprint(inactive))
	query.Set("include_templates", fmt.Sprint(templates))

	var list []*profiles.AccessProfile
	if err := NewClient(server).do(context.Background(), "GET", "/profiles?"+query.Encode(), nil, &list); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tSCOPE\tTEMPLATE\tACTIVE\tMODULES")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%d\n",
			p.Code, displayName(p, locale), p.Scope, p.IsTemplate, p.Active, len(p.PermissionMatrix))
	}
	return w.Flush()
}

// displayName prefers locale and falls back to the profile's primary name
func displayName(p *profiles.AccessProfile, locale string) string {
	if v, ok := p.DisplayName[locale]; ok {
		return v
	}
	return p.DisplayName.Primary()
}

func newPermissionsCommand() *Command {
	cmd := &Command{
		Name:        "permissions",
		Description: "Show the resolved permissions of a profile",
		Flags:       flag.NewFlagSet("permissions", flag.ExitOnError),
		Run:         runPermissions,
	}

	serverFlag(cmd.Flags)
	cmd.Flags.String("code", "", "Profile code")

	return cmd
}

func runPermissions(args []string) error {
	cmd := newPermissionsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	server := cmd.Flags.Lookup("server").Value.String()
	code := cmd.Flags.Lookup("code").Value.String()
	if code == "" {
		return fmt.Errorf("code is required")
	}

	var resolved profiles.ResolvedProfile
	if err := NewClient(server).do(context.Background(), "GET", "/profiles/"+url.PathEscape(code)+"/permissions", nil, &resolved); err != nil {
		return err
	}

	modules := make([]string, 0, len(resolved.Permissions))
	for module := range resolved.Permissions {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tSTATE")
	for _, module := range modules {
		fmt.Fprintf(w, "%s\t%s\n", module, resolved.Permissions[module])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d active module(s)\n", resolved.ActiveCount)
	return nil
}

func newDeactivateCommand() *Command {
	return newProfileActionCommand("deactivate", "Deactivate a profile even while accounts hold it", "POST", "/deactivate")
}

func newDeleteCommand() *Command {
	return newProfileActionCommand("delete", "Delete a profile that no account holds", "DELETE", "")
}

func newPurgeCommand() *Command {
	return newProfileActionCommand("purge", "Hard-delete an inactive, unreferenced profile", "POST", "/purge")
}

// newProfileActionCommand builds a command that sends one bodiless request
// for a profile code
func newProfileActionCommand(name, description, method, suffix string) *Command {
	cmd := &Command{
		Name:        name,
		Description: description,
		Flags:       flag.NewFlagSet(name, flag.ExitOnError),
	}

	serverFlag(cmd.Flags)
	cmd.Flags.String("code", "", "Profile code")

	cmd.Run = func(args []string) error {
		fs := newProfileActionCommand(name, description, method, suffix).Flags
		if err := fs.Parse(args); err != nil {
			return err
		}

		server := fs.Lookup("server").Value.String()
		code := fs.Lookup("code").Value.String()
		if code == "" {
			return fmt.Errorf("code is required")
		}

		path := "/profiles/" + url.PathEscape(code) + suffix
		if err := NewClient(server).do(context.Background(), method, path, nil, nil); err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Details["references"] != nil {
				logger.WithFields(logrus.Fields{
					"profile_code": code,
					"references":   apiErr.Details["references"],
				}).Error("profile is still assigned; reassign its accounts or deactivate it")
			}
			return err
		}

		logger.WithField("profile_code", code).Infof("%s succeeded", name)
		return nil
	}

	return cmd
}
