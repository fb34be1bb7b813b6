package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"campuscore/keygate/pkg/cli"
	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
	"campuscore/keygate/pkg/window"
)

var credFlags struct {
	id          string
	tier        string
	priority    int
	label       string
	materialEnv string
	format      string
}

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage the credential pool",
	Long: `Add, list, disable and rotate provider credentials.

Material is never passed on the command line. It is read from stdin or from
the environment variable named by --material-env, and sealed before it is
stored.

Examples:
  # Add a credential to the fast tier
  keygate credentials add --id fast-1 --tier fast --priority 0 < key.txt

  # List the flagship tier as JSON
  keygate credentials list --tier flagship --format json

  # Take a credential out of rotation
  keygate credentials disable fast-1

  # Replace the material of a credential and reactivate it
  keygate credentials rotate fast-1 --material-env NEW_FAST_1_KEY

  # Provision many credentials from a file
  keygate credentials import pool.yaml`,
}

var credAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a credential",
	Args:  cobra.NoArgs,
	RunE:  runCredAdd,
}

var credListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials with their current window usage",
	Args:  cobra.NoArgs,
	RunE:  runCredList,
}

var credDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Exclude a credential from selection",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredDisable,
}

var credEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Return a disabled or rotated credential to selection",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredEnable,
}

var credRotateCmd = &cobra.Command{
	Use:   "rotate <id>",
	Short: "Replace the material of a credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredRotate,
}

var credImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Provision credentials listed in a YAML file",
	Long: `Provision credentials listed in a YAML file.

Each entry names the environment variable holding its material:

  credentials:
    - id: fast-1
      tier: fast
      priority: 0
      label: team-a
      material_env: FAST_1_KEY

Entries that fail are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runCredImport,
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credAddCmd, credListCmd, credDisableCmd, credEnableCmd, credRotateCmd, credImportCmd)

	credAddCmd.Flags().StringVar(&credFlags.id, "id", "", "credential id (required)")
	credAddCmd.Flags().StringVar(&credFlags.tier, "tier", "", "tier: flagship, standard, fast or lite (required)")
	credAddCmd.Flags().IntVar(&credFlags.priority, "priority", 0, "selection priority, lower is preferred")
	credAddCmd.Flags().StringVar(&credFlags.label, "label", "", "free-form label")
	credAddCmd.Flags().StringVar(&credFlags.materialEnv, "material-env", "", "read material from this environment variable instead of stdin")
	_ = credAddCmd.MarkFlagRequired("id")
	_ = credAddCmd.MarkFlagRequired("tier")

	credRotateCmd.Flags().StringVar(&credFlags.materialEnv, "material-env", "", "read material from this environment variable instead of stdin")

	credListCmd.Flags().StringVar(&credFlags.tier, "tier", "", "only list this tier")
	credListCmd.Flags().StringVarP(&credFlags.format, "format", "f", "text", "output format (text, json, csv)")
}

// withApp loads configuration, builds the app and runs fn.
func withApp(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func runCredAdd(cmd *cobra.Command, args []string) error {
	t, err := tier.Parse(credFlags.tier)
	if err != nil {
		return err
	}
	material, err := materialFrom(cmd, credFlags.materialEnv)
	if err != nil {
		return err
	}

	return withApp(cmd, appOptions{needSeal: true}, func(ctx context.Context, a *app) error {
		c, err := a.vault.Provision(ctx, vault.ProvisionRequest{
			ID:       credFlags.id,
			Tier:     t,
			Material: material,
			Priority: credFlags.priority,
			Label:    credFlags.label,
		})
		if err != nil {
			if errors.Is(err, vault.ErrAlreadyExists) {
				return fmt.Errorf("credential %q already exists", credFlags.id)
			}
			return cli.NewCommandError("credentials add", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Added %s to tier %s\n", c.ID, c.Tier)
		return nil
	})
}

func runCredList(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(credFlags.format))
	if err != nil {
		return err
	}

	return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
		var creds []*vault.Credential
		if credFlags.tier != "" {
			t, err := tier.Parse(credFlags.tier)
			if err != nil {
				return err
			}
			creds, err = a.store.ListByTier(ctx, t)
			if err != nil {
				return err
			}
		} else if creds, err = a.store.List(ctx); err != nil {
			return err
		}
		return formatter.FormatTo(cmd.OutOrStdout(), credentialTable(creds, time.Now()))
	})
}

// credentialTable renders credentials with their usage as of now, so stale
// windows show as reset.
func credentialTable(creds []*vault.Credential, now time.Time) *cli.Table {
	table := &cli.Table{Columns: []string{
		"id", "tier", "status", "priority", "rpm_used", "rpd_used", "tpm_used",
		"failures", "cooldown_until", "label",
	}}
	for _, c := range creds {
		u, _ := window.Reclaim(c.Usage, now)
		cooldown := ""
		if c.CoolingDown(now) {
			cooldown = c.CooldownUntil.UTC().Format(time.RFC3339)
		}
		table.Append(
			c.ID,
			string(c.Tier),
			string(c.Status),
			strconv.Itoa(c.Priority),
			strconv.FormatInt(u.RPMUsed, 10),
			strconv.FormatInt(u.RPDUsed, 10),
			strconv.FormatInt(u.TPMUsed, 10),
			strconv.Itoa(c.ConsecutiveFailures),
			cooldown,
			c.Label,
		)
	}
	return table
}

func runCredDisable(cmd *cobra.Command, args []string) error {
	return setCredentialStatus(cmd, args[0], vault.StatusDisabled)
}

func runCredEnable(cmd *cobra.Command, args []string) error {
	return setCredentialStatus(cmd, args[0], vault.StatusActive)
}

func setCredentialStatus(cmd *cobra.Command, id string, status vault.Status) error {
	return withApp(cmd, appOptions{ledger: true}, func(ctx context.Context, a *app) error {
		c, err := a.vault.SetStatus(ctx, id, status)
		if err != nil {
			return credentialError(id, err)
		}
		if status == vault.StatusDisabled {
			a.recordOperatorEvent(ctx, ledger.KindCredentialDisabled, c)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is now %s\n", c.ID, c.Status)
		return nil
	})
}

func runCredRotate(cmd *cobra.Command, args []string) error {
	material, err := materialFrom(cmd, credFlags.materialEnv)
	if err != nil {
		return err
	}

	return withApp(cmd, appOptions{needSeal: true, ledger: true}, func(ctx context.Context, a *app) error {
		c, err := a.vault.Rotate(ctx, args[0], material)
		if err != nil {
			return credentialError(args[0], err)
		}
		a.recordOperatorEvent(ctx, ledger.KindCredentialRotated, c)
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Rotated %s (status %s)\n", c.ID, c.Status)
		return nil
	})
}

// importFile is the document read by credentials import.
type importFile struct {
	Credentials []importEntry `yaml:"credentials"`
}

type importEntry struct {
	ID          string `yaml:"id"`
	Tier        string `yaml:"tier"`
	Priority    int    `yaml:"priority"`
	Label       string `yaml:"label"`
	MaterialEnv string `yaml:"material_env"`
}

// request resolves the entry into a provision request.
func (e importEntry) request() (vault.ProvisionRequest, error) {
	if e.ID == "" {
		return vault.ProvisionRequest{}, fmt.Errorf("entry without id")
	}
	t, err := tier.Parse(e.Tier)
	if err != nil {
		return vault.ProvisionRequest{}, fmt.Errorf("%s: %w", e.ID, err)
	}
	if e.MaterialEnv == "" {
		return vault.ProvisionRequest{}, fmt.Errorf("%s: material_env is required", e.ID)
	}
	material := os.Getenv(e.MaterialEnv)
	if material == "" {
		return vault.ProvisionRequest{}, fmt.Errorf("%s: environment variable %s is empty", e.ID, e.MaterialEnv)
	}
	return vault.ProvisionRequest{
		ID:       e.ID,
		Tier:     t,
		Material: []byte(material),
		Priority: e.Priority,
		Label:    e.Label,
	}, nil
}

func readImportFile(path string) (*importFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	var f importFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse import file: %w", err)
	}
	if len(f.Credentials) == 0 {
		return nil, fmt.Errorf("import file %s lists no credentials", path)
	}
	return &f, nil
}

func runCredImport(cmd *cobra.Command, args []string) error {
	file, err := readImportFile(args[0])
	if err != nil {
		return err
	}

	return withApp(cmd, appOptions{needSeal: true}, func(ctx context.Context, a *app) error {
		progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "Importing")
		progress.Start(int64(len(file.Credentials)))
		for i, entry := range file.Credentials {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			req, err := entry.request()
			if err == nil {
				_, err = a.vault.Provision(ctx, req)
			}
			if err != nil {
				progress.Error(err)
			}
			progress.Update(int64(i + 1))
		}
		progress.Finish()

		if failed := progress.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d credentials failed to import", failed, len(file.Credentials))
		}
		return nil
	})
}

// recordOperatorEvent writes a credential lifecycle event when the ledger is
// enabled.
func (a *app) recordOperatorEvent(ctx context.Context, kind ledger.EventKind, c *vault.Credential) {
	if a.ledgerSink == nil {
		return
	}
	err := a.ledgerSink.Record(ctx, &ledger.Event{
		Kind:         kind,
		Tier:         string(c.Tier),
		CredentialID: c.ID,
		Detail:       "operator",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: ledger event not recorded: %v\n", err)
	}
}

func credentialError(id string, err error) error {
	if errors.Is(err, vault.ErrNotFound) {
		return fmt.Errorf("credential %q not found", id)
	}
	return err
}

// materialFrom reads material from the named environment variable, or from
// stdin when env is empty.
func materialFrom(cmd *cobra.Command, env string) ([]byte, error) {
	if env == "" {
		return readMaterial(cmd.InOrStdin())
	}
	v := os.Getenv(env)
	if v == "" {
		return nil, fmt.Errorf("environment variable %s is empty", env)
	}
	return []byte(v), nil
}
