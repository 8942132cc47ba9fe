package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Sondeo/internal/models"
	"github.com/soaringjerry/Sondeo/internal/services"
)

var (
	adminEmail    string
	adminPassword string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrator management",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register an administrator or promote an existing account",
	Long: `Signs in with the given credentials, registering the account first if it
does not exist, and sets its profile role to admin.

The password may also be given through SONDEO_ADMIN_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		password, err := adminCredentials()
		if err != nil {
			return err
		}
		stack, err := newClientStack(cfg, nil, logger)
		if err != nil {
			return err
		}
		res, err := stack.profiles.PromoteAdmin(ctx, adminEmail, password)
		if err != nil {
			return err
		}
		if res.Created {
			fmt.Fprintf(cmd.OutOrStdout(), "administrator %s created (%s)\n", res.Profile.Email, res.Profile.ID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s promoted to administrator (%s)\n", res.Profile.Email, res.Profile.ID)
		}
		return nil
	},
}

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Question management",
}

var questionsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Create questions from a YAML file",
	Long: `Signs in as an administrator and creates the questions listed in FILE,
in order, stopping at the first failure. The file is a YAML list:

  - text: How did you hear about us?
    type: select
    options: [Friends, Search, Other]
  - text: Anything else?
    type: text`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		drafts, err := readQuestionFile(args[0])
		if err != nil {
			return err
		}
		stack, err := signedInAdmin(ctx)
		if err != nil {
			return err
		}
		n, err := stack.survey.ImportQuestions(ctx, drafts)
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d questions created\n", n, len(drafts))
		return err
	},
}

func readQuestionFile(path string) ([]services.QuestionDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	var drafts []services.QuestionDraft
	if err := yaml.Unmarshal(data, &drafts); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%s lists no questions", path)
	}
	return drafts, nil
}

// adminCredentials returns the --password value, falling back to SONDEO_ADMIN_PASSWORD.
func adminCredentials() (string, error) {
	password := adminPassword
	if password == "" {
		password = os.Getenv("SONDEO_ADMIN_PASSWORD")
	}
	if strings.TrimSpace(adminEmail) == "" || password == "" {
		return "", errors.New("--email and --password are required")
	}
	return password, nil
}

// signedInAdmin signs in with --email and --password and checks the admin role.
func signedInAdmin(ctx context.Context) (*clientStack, error) {
	password, err := adminCredentials()
	if err != nil {
		return nil, err
	}
	stack, err := newClientStack(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	sess, err := stack.client.SignIn(ctx, adminEmail, password)
	if err != nil {
		return nil, services.ClassifyAuthError("sign in", err)
	}
	p, err := stack.profiles.Reconcile(ctx, sess.User, models.RoleUser)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%s is not an administrator", p.Email)
	}
	return stack, nil
}

func init() {
	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "administrator email")
	adminCreateCmd.Flags().StringVar(&adminPassword, "password", "", "administrator password")
	adminCmd.AddCommand(adminCreateCmd)

	for _, c := range []*cobra.Command{questionsImportCmd, answersExportCmd} {
		c.Flags().StringVar(&adminEmail, "email", "", "administrator email")
		c.Flags().StringVar(&adminPassword, "password", "", "administrator password (or SONDEO_ADMIN_PASSWORD)")
	}
	questionsCmd.AddCommand(questionsImportCmd)
}
