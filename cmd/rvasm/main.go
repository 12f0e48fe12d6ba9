package main

import (
	"fmt"
	"log"
	"os"

	"github.com/rv32i-sim/rv32i-sim/pkg/asm"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(0)
	var output string

	rootCmd := &cobra.Command{
		Use:   "rvasm <path.s>",
		Short: "Assemble an RV32I mnemonic source file into a flat program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer fp.Close()

			buf, err := asm.Assemble(fp)
			if err != nil {
				return err
			}

			if output == "" {
				_, err := os.Stdout.Write(buf)
				return err
			}
			if err := os.WriteFile(output, buf, 0o644); err != nil {
				return fmt.Errorf("rvasm: cannot write %s: %w", output, err)
			}
			return nil
		},
	}
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "output path for the assembled image (default: stdout)")

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
