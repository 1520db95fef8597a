package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/semian/admin"
	"github.com/jonwraymond/semian/auth"
)

func newTokenCommand(g *globals) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Long: `Token signs a JWT with admin.jwt.secret that the admin API accepts as
"Authorization: Bearer <token>".`,
		Example: `  semianctl token --subject alice --role operator --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Admin.JWT.Secret == "" {
				return errors.New("admin.jwt.secret is not configured")
			}
			for _, r := range roles {
				if r != auth.RoleViewer && r != auth.RoleOperator {
					return fmt.Errorf("unknown role %q", r)
				}
			}

			token, err := auth.IssueToken(admin.JWTConfig(cfg.Admin.JWT), auth.TokenSpec{
				Subject: subject,
				Roles:   roles,
				TTL:     ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (required)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleViewer}, "granted roles")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
