package cmd

import "fmt"

// printVersionInfo displays build version information.
func printVersionInfo() error {
	fmt.Printf("Parley v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
	return nil
}
