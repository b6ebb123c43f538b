package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/azdo-connector/internal/credential"
	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/source/azuredevops"
)

// configureOptions holds the values collected by flags or the form.
type configureOptions struct {
	id           string
	organization string
	project      string
	baseURL      string
	pat          string
	batchSize    string
	pollInterval string
	noInput      bool
}

func (a *App) configureCommand() *cobra.Command {
	var opts configureOptions

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Add or update a connector and store its personal access token",
		Long: `Add or update a connector entry in the configuration file and store its
personal access token in the system keyring. Values not given as flags are
asked for interactively unless --no-input is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.id == "" {
				opts.id = a.connectorID
			}
			return a.runConfigure(opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Connector ID (defaults to organization-project)")
	cmd.Flags().StringVar(&opts.organization, "organization", "", "Azure DevOps organization")
	cmd.Flags().StringVar(&opts.project, "project", "", "Team project name")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Organization URL override, e.g. an Azure DevOps Server collection")
	cmd.Flags().StringVar(&opts.pat, "pat", "", "Personal access token (prefer the interactive prompt)")
	cmd.Flags().StringVar(&opts.batchSize, "batch-size", strconv.Itoa(model.DefaultBatchSize), "Work items per batch (1-200)")
	cmd.Flags().StringVar(&opts.pollInterval, "poll-interval", strconv.Itoa(model.DefaultPollIntervalSec), "Seconds between polls in sync --watch")
	cmd.Flags().BoolVar(&opts.noInput, "no-input", false, "Fail instead of prompting for missing values")

	return cmd
}

func (a *App) runConfigure(opts configureOptions) error {
	if opts.organization == "" || opts.project == "" || opts.pat == "" {
		if opts.noInput {
			return fmt.Errorf("--organization, --project and --pat are required with --no-input")
		}
		if err := buildConfigureForm(&opts).Run(); err != nil {
			return fmt.Errorf("configure form: %w", err)
		}
	}

	if err := validateRequired("Organization")(opts.organization); err != nil {
		return err
	}
	if err := validateRequired("Project")(opts.project); err != nil {
		return err
	}
	if err := validateRequired("Token")(opts.pat); err != nil {
		return err
	}
	if opts.baseURL != "" {
		if err := validateURL(opts.baseURL); err != nil {
			return err
		}
	}
	batchSize, err := parsePositive("batch size", opts.batchSize)
	if err != nil {
		return err
	}
	if batchSize > azuredevops.MaxBatchSize {
		return fmt.Errorf("batch size must be at most %d", azuredevops.MaxBatchSize)
	}
	interval, err := parsePositive("poll interval", opts.pollInterval)
	if err != nil {
		return err
	}

	cc := model.ConnectorConfig{
		ID:              strings.TrimSpace(opts.id),
		Organization:    strings.TrimSpace(opts.organization),
		Project:         strings.TrimSpace(opts.project),
		BatchSize:       batchSize,
		BaseURL:         strings.TrimSpace(opts.baseURL),
		Enabled:         true,
		PollIntervalSec: interval,
		MaxRetries:      model.DefaultMaxRetries,
	}
	if cc.ID == "" {
		cc.ID = cc.Organization + "-" + cc.Project
	}

	creds, err := a.openCredentials()
	if err != nil {
		return err
	}
	if err := creds.Set(credential.KeyFor(cc.ID), opts.pat); err != nil {
		return err
	}

	a.cfg.UpsertConnector(cc)
	if err := model.SaveConfig(a.configPath, a.cfg); err != nil {
		return err
	}

	a.printf("Saved connector %q (%s/%s) to %s\n", cc.ID, cc.Organization, cc.Project, a.configPath)
	return nil
}

func buildConfigureForm(opts *configureOptions) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Organization").
				Description("Azure DevOps organization (dev.azure.com/<organization>)").
				Placeholder("contoso").
				Value(&opts.organization).
				Validate(validateRequired("Organization")),
			huh.NewInput().
				Title("Project").
				Description("Team project whose work items are indexed").
				Placeholder("Web").
				Value(&opts.project).
				Validate(validateRequired("Project")),
			huh.NewInput().
				Title("Personal Access Token").
				Description("PAT with Work Items (Read) scope").
				EchoMode(huh.EchoModePassword).
				Value(&opts.pat).
				Validate(validateRequired("Token")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Base URL").
				Description("Optional, for Azure DevOps Server collections").
				Placeholder("https://dev.azure.com/contoso").
				Value(&opts.baseURL).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					return validateURL(s)
				}),
			huh.NewInput().
				Title("Batch size").
				Value(&opts.batchSize).
				Validate(func(s string) error {
					_, err := parsePositive("batch size", s)
					return err
				}),
			huh.NewInput().
				Title("Poll interval (seconds)").
				Value(&opts.pollInterval).
				Validate(func(s string) error {
					_, err := parsePositive("poll interval", s)
					return err
				}),
		),
	)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://dev.azure.com/contoso)")
	}
	return nil
}

func parsePositive(name, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive number", name)
	}
	return n, nil
}
