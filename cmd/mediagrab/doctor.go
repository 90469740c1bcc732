package main

import (
	"fmt"
	"net"
	"os"

	"mediagrab/internal/config"
	"mediagrab/internal/fetcher"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your mediagrab setup",
		Long: `Verifies that the bot token, cookies, extraction tool, download directory
and liveness port are usable. Reports pass/fail for each check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("mediagrab doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config loads and validates
			cfg, err := config.Load(configPath)
			if err != nil {
				printFail("Config", err.Error())
				fmt.Printf("\n0 passed, 1 failed\n")
				return fmt.Errorf("config check failed")
			}
			source := "environment"
			if configPath != "" {
				source = configPath
			}
			printPass("Config", source)
			passed++

			// 2. Bot token
			if err := cfg.RequireToken(); err != nil {
				printFail("Bot token", err.Error())
				failed++
			} else {
				printPass("Bot token", "set")
				passed++
			}

			// 3. Cookies
			f := fetcher.New(fetcher.Config{
				Tool:    cfg.Fetch.Tool,
				Cookies: cfg.Fetch.Cookies,
				Logger:  logger,
			})
			if !f.HasCookies() {
				printWarn("Cookies", "TWITTER_COOKIES not set; downloads will fail")
				warned++
			} else {
				printPass("Cookies", fmt.Sprintf("%d bytes", len(cfg.Fetch.Cookies)))
				passed++
			}

			// 4. Extraction tool on PATH
			if path, err := f.LookPath(); err != nil {
				printFail("Fetch tool", err.Error())
				failed++
			} else {
				printPass("Fetch tool", path)
				passed++
			}

			// 5. Download root writable
			if err := checkWritable(cfg.Storage.Root); err != nil {
				printFail("Download root", err.Error())
				failed++
			} else {
				printPass("Download root", cfg.Storage.Root)
				passed++
			}

			// 6. Liveness port
			if cfg.Health.Enabled {
				if err := checkPort(cfg.Health.Address()); err != nil {
					printWarn("Health port", fmt.Sprintf("%s may be in use: %v", cfg.Health.Address(), err))
					warned++
				} else {
					printPass("Health port", cfg.Health.Address()+" available")
					passed++
				}
			} else {
				printWarn("Health port", "liveness endpoint disabled")
				warned++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running mediagrab.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nmediagrab should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! mediagrab is ready to run.\n")
			}
			return nil
		},
	}
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	scratch, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := scratch.Name()
	scratch.Close()
	return os.Remove(name)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
