package main

import (
	"fmt"
	"os"

	cmd "github.com/liliang-cn/cognify/cmd/cognify"
)

func main() {
	rootCmd := cmd.GetRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
