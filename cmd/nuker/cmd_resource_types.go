package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nuker/providers/aws"
)

// resourceTypesCmd lists every type a policy can enable
var resourceTypesCmd = &cobra.Command{
	Use:   "resource-types",
	Short: "List supported resource types",
	Run: func(cmd *cobra.Command, args []string) {
		for _, t := range aws.SupportedTypes() {
			fmt.Println(t)
		}
	},
}

func init() {
	rootCmd.AddCommand(resourceTypesCmd)
}
