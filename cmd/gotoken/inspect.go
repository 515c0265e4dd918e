package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/goToken/internal/config"
	"github.com/MrEthical07/goToken/jwt"
)

type inspection struct {
	Subject   string    `json:"sub"`
	Kind      string    `json:"type"`
	JTI       string    `json:"jti"`
	FamilyID  string    `json:"familyId,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	Expired   bool      `json:"expired"`
}

func newInspectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token with the configured secret and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), cfg, args[0], time.Now)
		},
	}
}

func inspect(w io.Writer, cfg *config.Config, token string, now func() time.Time) error {
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		Secret:        []byte(cfg.JWT.Secret),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Now:           now,
	})
	if err != nil {
		return err
	}

	claims, err := m.VerifyAllowExpired(strings.TrimSpace(token))
	expired := errors.Is(err, jwt.ErrExpired)
	if err != nil && !expired {
		return fmt.Errorf("token rejected: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(inspection{
		Subject:   claims.Subject,
		Kind:      string(claims.Kind),
		JTI:       claims.JTI,
		FamilyID:  claims.FamilyID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
		Expired:   expired,
	})
}
