package main

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/andycufari/portero/internal/config"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string
	var showQR bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration without starting the gateway",
		Long: `Doctor loads the configuration documents (backends, replacements,
policies), reports which backends would be skipped for an unresolved
${VAR} placeholder, validates every replacement rule, and prints the
approval channel's pairing secret so an admin can pair a chat account
before the first "serve" run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath, showQR)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "portero.yaml", "Path to YAML/JSON5 configuration file")
	cmd.Flags().BoolVar(&showQR, "qr", true, "Render the pairing secret as an ASCII QR code")

	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string, showQR bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintf(out, "config: %s parsed OK\n", configPath)

	resolved, skipped := cfg.ResolvedBackends()
	fmt.Fprintf(out, "backends: %d resolved, %d skipped\n", len(resolved), len(skipped))
	for _, s := range skipped {
		fmt.Fprintf(out, "  - %s: unresolved placeholder %q\n", s.ID, s.Placeholder)
	}

	badRules := 0
	for i, r := range cfg.Replacements {
		if _, err := r.ToRule(); err != nil {
			badRules++
			fmt.Fprintf(out, "  - replacement[%d]: %v\n", i, err)
		}
	}
	fmt.Fprintf(out, "replacements: %d rules, %d invalid\n", len(cfg.Replacements), badRules)

	secret := cfg.ApprovalChannel.PairingSecret
	if secret == "" {
		fmt.Fprintln(out, "pairing: no pairing_secret configured; the approval channel cannot pair an admin")
		return nil
	}
	fmt.Fprintf(out, "pairing secret: %s\n", secret)
	fmt.Fprintln(out, "send this exact text to the bot on your configured chat platform to pair as admin")

	if showQR && term.IsTerminal(int(os.Stdout.Fd())) {
		qr, err := qrcode.New(secret, qrcode.Medium)
		if err != nil {
			fmt.Fprintf(out, "(failed to render QR code: %v)\n", err)
			return nil
		}
		fmt.Fprintln(out, qr.ToString(false))
	}

	return nil
}
