package cmd

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sqlkeep/sqlkeep/internal/config"
	"github.com/sqlkeep/sqlkeep/internal/logger"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the required native tools are installed",
	Long:  `Verify that the MySQL client tools sqlkeep shells out to are present in your PATH.`,
	Run: func(cmd *cobra.Command, args []string) {
		l := logger.FromContext(cmd.Context())
		l.Info("sqlkeep doctor - environment check", "os", runtime.GOOS, "arch", runtime.GOARCH)

		binaries := []string{"mysqldump", "mysql"}
		if custom := config.GetConfig().MysqldumpPath; custom != "" && custom != "mysqldump" {
			binaries[0] = custom
		}

		allOk := true
		for _, bin := range binaries {
			path, err := exec.LookPath(bin)
			if err != nil {
				fmt.Printf("  [ ] %-12s: NOT FOUND\n", bin)
				allOk = false
			} else {
				fmt.Printf("  [x] %-12s: %s\n", bin, path)
			}
		}
		fmt.Println()

		if allOk {
			fmt.Println("Result: all required tools found.")
		} else {
			fmt.Println("Result: some tools are missing. Install the MySQL client package for your platform.")
		}
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
