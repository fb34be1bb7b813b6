package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"campuscore/keygate/pkg/seal"
)

var sealFlags struct {
	output string
}

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Manage the sealing key",
	Long: `Generate sealing keys and seal values with the configured key.

Credential material is stored sealed with AES-256-GCM (default) or
XChaCha20-Poly1305. The 32-byte master key is read from the environment
variable named by seal.key_env (default KEYGATE_SEAL_KEY) or from
seal.key_file.

Examples:
  # Print a new hex key
  keygate seal keygen

  # Write a new key to a file readable only by the owner
  keygate seal keygen --output /etc/keygate/seal.key

  # Seal a value read from stdin
  echo -n "sk-..." | keygate seal value`,
}

var sealKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new sealing key",
	Args:  cobra.NoArgs,
	RunE:  runSealKeygen,
}

var sealValueCmd = &cobra.Command{
	Use:   "value",
	Short: "Seal a value read from stdin",
	Args:  cobra.NoArgs,
	RunE:  runSealValue,
}

func init() {
	rootCmd.AddCommand(sealCmd)
	sealCmd.AddCommand(sealKeygenCmd, sealValueCmd)

	sealKeygenCmd.Flags().StringVarP(&sealFlags.output, "output", "o", "", "write the key to this file (mode 0600) instead of stdout")
}

func runSealKeygen(cmd *cobra.Command, args []string) error {
	key, err := seal.GenerateKey()
	if err != nil {
		return err
	}

	if sealFlags.output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	}

	f, err := os.OpenFile(sealFlags.output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, key); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Key written to %s\n", sealFlags.output)
	return nil
}

func runSealValue(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	sealer, err := openSealer(cfg.Seal)
	if err != nil {
		return err
	}

	material, err := readMaterial(cmd.InOrStdin())
	if err != nil {
		return err
	}
	sealed, err := sealer.Seal(material)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}

// readMaterial reads secret material from r, trimming a trailing newline.
func readMaterial(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read material: %w", err)
	}
	material := strings.TrimRight(string(data), "\r\n")
	if material == "" {
		return nil, fmt.Errorf("no material on stdin")
	}
	return []byte(material), nil
}
