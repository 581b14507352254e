package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var canaryCount int

var canariesCmd = &cobra.Command{
	Use:   "canaries",
	Short: "Print generated canary tokens",
	Long: `Print numbered canary honeytokens for seeding documents and scenario
files. The tokens follow the CANARY_KEY_NNN shape the default detector and
scenario catalog use.`,
	Run: func(cmd *cobra.Command, args []string) {
		for i := 1; i <= canaryCount; i++ {
			fmt.Printf("CANARY_KEY_%03d\n", i)
		}
	},
}

func init() {
	canariesCmd.Flags().IntVar(&canaryCount, "count", 2, "number of tokens to generate")
	rootCmd.AddCommand(canariesCmd)
}
