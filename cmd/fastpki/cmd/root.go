package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fastpki",
	Short: "FastPKI is a certificate issuance service",
	Long: `A certificate authority service for issuing, revoking, and exporting
X.509 certificates and their chains of trust.
Complete documentation is available at https://github.com/jsenecal/FastPKI`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
