package main

import "github.com/spf13/cobra"

// imageFileCompletion suggests raw and compressed disk images.
func imageFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return []string{"img", "raw", "bin", "gz", "zst", "xz"}, cobra.ShellCompDirectiveFilterFileExt
}

// manifestFileCompletion suggests manifest files.
func manifestFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"yml", "yaml", "json"}, cobra.ShellCompDirectiveFilterFileExt
}
